package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillMemoDay = "2026-07-18_backfill_memo_day"

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
		{name: migrationBackfillMemoDay, apply: backfillMemoDay},
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

// backfillMemoDay derives the day column for rows written before the day
// index existed. Records created by current builds always carry it.
func backfillMemoDay(db *gorm.DB) error {
	var stale []memo.LocalMemoRecord
	if err := db.Where("day = ''").Find(&stale).Error; err != nil {
		return err
	}
	for _, record := range stale {
		day := memo.DayOfEpochMs(record.CreatedAtEpochMs)
		if err := db.Model(&memo.LocalMemoRecord{}).
			Where("memo_id = ?", record.ID).
			Update("day", day.String()).Error; err != nil {
			return err
		}
	}
	return nil
}
