package app

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/executor"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestExecutorFallsBackToZeroCycles(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()

	ex := newExecutor(config.ExecutorConfig{}, logger)
	assert.IsType(t, executor.ZeroCycleExecutor{}, ex)

	ex = newExecutor(config.ExecutorConfig{Command: "r0vm"}, logger)
	assert.IsType(t, &executor.CommandExecutor{}, ex)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	_, err := New(context.Background(), config.Default(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain.rpcUrl is required")
}
