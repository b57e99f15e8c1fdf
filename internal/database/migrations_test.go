package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsListCreators(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&shopping.List{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	createdAt := time.Date(2024, 11, 2, 10, 0, 0, 0, time.UTC)
	legacy := shopping.List{ID: "list-legacy", Name: "Mercado", OwnerID: "user-a", CreatedAt: createdAt}
	current := shopping.List{ID: "list-current", Name: "Feira", OwnerID: "user-b", CreatorID: "user-c", CreatedAt: createdAt}
	for _, list := range []shopping.List{legacy, current} {
		if err := database.Create(&list).Error; err != nil {
			testContext.Fatalf("failed to insert list: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored shopping.List
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload legacy list: %v", err)
	}
	if stored.CreatorID != "user-a" {
		testContext.Fatalf("expected creator to be backfilled from owner, got %q", stored.CreatorID)
	}
	if err := database.Where("id = ?", current.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload current list: %v", err)
	}
	if stored.CreatorID != "user-c" {
		testContext.Fatalf("expected existing creator to be kept, got %q", stored.CreatorID)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillListCreators).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := database.Model(&shopping.List{}).Where("id = ?", current.ID).Update("creator_id", "").Error; err != nil {
		testContext.Fatalf("failed to clear creator: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-run migrations: %v", err)
	}
	if err := database.Where("id = ?", current.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload current list: %v", err)
	}
	if stored.CreatorID != "" {
		testContext.Fatalf("expected recorded migration not to run twice, got %q", stored.CreatorID)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "feirinha.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"accounts", "sessions", "lists", "list_shares", "products", "list_items", "price_observations", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
