package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillListCreators = "2025-03-01_backfill_list_creators"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillListCreators, apply: backfillListCreators},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillListCreators grants administrative rights to the single owner of lists
// written before creator_id existed.
func backfillListCreators(db *gorm.DB) error {
	return db.Model(&shopping.List{}).
		Where("creator_id = '' OR creator_id IS NULL").
		Update("creator_id", gorm.Expr("owner_id")).Error
}
