package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/MarcoPoloResearchLab/feirinha/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// migrateSchema creates or extends every table the service owns.
func migrateSchema(db *gorm.DB) error {
	models := make([]any, 0, 8)
	models = append(models, users.Models()...)
	models = append(models, shopping.Models()...)
	models = append(models, &migrationRecord{})
	return db.AutoMigrate(models...)
}
