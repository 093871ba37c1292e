package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/db"
	"proofplus-coordinator/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	database, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}

func finalized(id string) *models.FinalizedTask {
	return models.NewFinalizedTask(&models.TaskFinalized{
		TaskID:          common.HexToHash(id),
		ImageID:         common.HexToHash("0xbeef"),
		PublicInputHash: []byte{0xab},
		ProofHash:       []byte{0xcd},
	})
}

func TestInsertAndFind(t *testing.T) {
	repo := NewFinalizedTaskRepository(openTestDB(t))
	ctx := context.Background()

	n, err := repo.Insert(ctx, finalized("0x01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := repo.FindByTaskID(ctx, models.TaskKey(common.HexToHash("0x01")))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ab", found.PublicInputHash)
	assert.Equal(t, "cd", found.ProofHash)

	missing, err := repo.FindByTaskID(ctx, models.TaskKey(common.HexToHash("0x02")))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindIsCaseInsensitiveOnKey(t *testing.T) {
	repo := NewFinalizedTaskRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.Insert(ctx, finalized("0xabcdef"))
	require.NoError(t, err)

	found, err := repo.FindByTaskID(ctx, "0x0000000000000000000000000000000000000000000000000000000000ABCDEF")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestSecondFinalizationIsRejected(t *testing.T) {
	repo := NewFinalizedTaskRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.Insert(ctx, finalized("0x01"))
	require.NoError(t, err)

	overwrite := finalized("0x01")
	overwrite.ProofHash = "ff"
	_, err = repo.Insert(ctx, overwrite)
	assert.ErrorIs(t, err, ErrDuplicateFinalization)

	found, err := repo.FindByTaskID(ctx, models.TaskKey(common.HexToHash("0x01")))
	require.NoError(t, err)
	assert.Equal(t, "cd", found.ProofHash)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentFinalizationsStoreOneRecord(t *testing.T) {
	repo := NewFinalizedTaskRepository(openTestDB(t))
	ctx := context.Background()

	const writers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, finalized("0x07"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrDuplicateFinalization):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, duplicates)
}

func TestListNewestFirst(t *testing.T) {
	repo := NewFinalizedTaskRepository(openTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"0x01", "0x02", "0x03"} {
		_, err := repo.Insert(ctx, finalized(id))
		require.NoError(t, err)
	}

	tasks, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskKey(common.HexToHash("0x03")), tasks[0].TaskID)
}

func TestFailedTransactionsDue(t *testing.T) {
	repo := NewFailedTransactionRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now()

	due := &models.FailedTransaction{
		TxType:      models.FailedTransactionTypeSlash,
		TaskID:      "0x01",
		CallData:    "deadbeef",
		MaxRetries:  3,
		NextRetryAt: now.Add(-time.Minute),
	}
	later := &models.FailedTransaction{
		TxType:      models.FailedTransactionTypeSlash,
		TaskID:      "0x02",
		CallData:    "deadbeef",
		MaxRetries:  3,
		NextRetryAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, due))
	require.NoError(t, repo.Create(ctx, later))
	assert.NotEmpty(t, due.ID)
	assert.Equal(t, models.FailedTransactionStatusPending, due.Status)

	rows, err := repo.FindDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)

	rows[0].MarkAsRecovered("0xabc")
	require.NoError(t, repo.Update(ctx, rows[0]))

	rows, err = repo.FindDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	byTask, err := repo.FindByTaskID(ctx, "0x01")
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, models.FailedTransactionStatusRecovered, byTask[0].Status)
}

func TestExhaustedFailedTransactionIsNotDue(t *testing.T) {
	repo := NewFailedTransactionRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now()

	exhausted := &models.FailedTransaction{
		TxType:      models.FailedTransactionTypeSlash,
		TaskID:      "0x03",
		CallData:    "deadbeef",
		RetryCount:  3,
		MaxRetries:  3,
		NextRetryAt: now.Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, exhausted))
	require.Equal(t, models.FailedTransactionStatusPending, exhausted.Status)

	rows, err := repo.FindDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
