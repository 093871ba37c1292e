package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*gorm.DB) error
}

// MigrationLog applied data migrations
type MigrationLog struct {
	ID          uint      `gorm:"primaryKey"`
	Version     string    `gorm:"type:varchar(50);not null;uniqueIndex"`
	Description string    `gorm:"type:text"`
	ExecutedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName table name
func (MigrationLog) TableName() string {
	return "schema_migrations_log"
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Normalize finalized_tasks hex encoding",
			Up:          normalizeFinalizedTaskHex,
		},
	}
}

// normalizeFinalizedTaskHex rewrites rows imported from older tooling: ids
// lowercase with 0x, hashes lowercase without 0x.
func normalizeFinalizedTaskHex(tx *gorm.DB) error {
	statements := []string{
		`UPDATE finalized_tasks SET public_input_hash = SUBSTR(public_input_hash, 3) WHERE public_input_hash LIKE '0x%' OR public_input_hash LIKE '0X%'`,
		`UPDATE finalized_tasks SET proof_hash = SUBSTR(proof_hash, 3) WHERE proof_hash LIKE '0x%' OR proof_hash LIKE '0X%'`,
		`UPDATE finalized_tasks SET task_id = LOWER(task_id), image_id = LOWER(image_id), public_input_hash = LOWER(public_input_hash), proof_hash = LOWER(proof_hash)`,
	}
	for _, stmt := range statements {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// RunDataMigrations applies every migration not yet recorded in schema_migrations_log
func RunDataMigrations(database *gorm.DB, log *logrus.Logger) error {
	for _, migration := range GetDataMigrations() {
		var count int64
		if err := database.Model(&MigrationLog{}).Where("version = ?", migration.Version).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check data migration %s: %w", migration.Version, err)
		}
		if count > 0 {
			continue
		}

		err := database.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationLog{Version: migration.Version, Description: migration.Description}).Error
		})
		if err != nil {
			return fmt.Errorf("data migration %s failed: %w", migration.Version, err)
		}

		log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Data migration applied")
	}
	return nil
}
