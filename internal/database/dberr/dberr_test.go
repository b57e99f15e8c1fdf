package dberr

import (
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type uniqueRow struct {
	ID   int    `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestIsUniqueViolationDetectsSQLiteConstraint(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:dberr_test?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&uniqueRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Create(&uniqueRow{ID: 1, Name: "arroz"}).Error; err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	err = db.Create(&uniqueRow{ID: 2, Name: "arroz"}).Error
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestIsUniqueViolationClassifiesErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm duplicated key", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "sqlite message", err: errors.New("constraint failed: UNIQUE constraint failed: accounts.email (2067)"), want: true},
		{name: "other", err: gorm.ErrRecordNotFound, want: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := IsUniqueViolation(testCase.err); got != testCase.want {
				t.Fatalf("IsUniqueViolation(%v) = %v, want %v", testCase.err, got, testCase.want)
			}
		})
	}
}
