package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/models"
)

// Open connects to the task store and migrates its schema. The returned
// handle is owned by the caller and released with Close.
func Open(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	switch {
	case cfg.Driver != "postgres":
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := database.AutoMigrate(
		&models.FinalizedTask{},
		&models.FailedTransaction{},
		&MigrationLog{},
	); err != nil {
		Close(database)
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}

	if err := RunDataMigrations(database, log); err != nil {
		Close(database)
		return nil, err
	}

	log.WithField("driver", dialector.Name()).Info("Database connected and migrated")
	return database, nil
}

// Close releases the underlying connection pool
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
