package db

import (
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/models"
)

func TestOpenMigratesSchema(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	database, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	defer Close(database)

	assert.True(t, database.Migrator().HasTable(&models.FinalizedTask{}))
	assert.True(t, database.Migrator().HasTable(&models.FailedTransaction{}))
	assert.True(t, database.Migrator().HasIndex(&models.FinalizedTask{}, "TaskID"))

	var applied int64
	require.NoError(t, database.Model(&MigrationLog{}).Count(&applied).Error)
	assert.Equal(t, int64(len(GetDataMigrations())), applied)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	_, err := Open(config.DatabaseConfig{Driver: "mysql", DSN: "x"}, logger)
	assert.Error(t, err)
}

func TestNormalizeLegacyRows(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	database, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	defer Close(database)

	require.NoError(t, database.Where("version = ?", "data_001").Delete(&MigrationLog{}).Error)
	require.NoError(t, database.Exec(
		`INSERT INTO finalized_tasks (task_id, image_id, public_input_hash, proof_hash) VALUES (?, ?, ?, ?)`,
		"0xAB", "0xCD", "0xDEADBEEF", "C5D2",
	).Error)

	require.NoError(t, RunDataMigrations(database, logger))
	// second run is a no-op
	require.NoError(t, RunDataMigrations(database, logger))

	var row models.FinalizedTask
	require.NoError(t, database.First(&row).Error)
	assert.Equal(t, "0xab", row.TaskID)
	assert.Equal(t, "0xcd", row.ImageID)
	assert.Equal(t, "deadbeef", row.PublicInputHash)
	assert.Equal(t, "c5d2", row.ProofHash)
}
