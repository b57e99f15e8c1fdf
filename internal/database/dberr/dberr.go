// Package dberr classifies errors returned by the SQLite store.
package dberr

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

const sqliteUniqueViolation = "UNIQUE constraint failed"

// IsUniqueViolation reports whether err was caused by a unique index rejecting a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), sqliteUniqueViolation)
}
