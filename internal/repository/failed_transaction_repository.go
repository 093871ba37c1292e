package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"proofplus-coordinator/internal/models"
)

// FailedTransactionRepository contract calls waiting for resubmission
type FailedTransactionRepository interface {
	Create(ctx context.Context, ft *models.FailedTransaction) error
	Update(ctx context.Context, ft *models.FailedTransaction) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.FailedTransaction, error)
	FindByTaskID(ctx context.Context, taskID string) ([]*models.FailedTransaction, error)
}

type failedTransactionRepository struct {
	db *gorm.DB
}

// NewFailedTransactionRepository creates a new FailedTransactionRepository instance
func NewFailedTransactionRepository(db *gorm.DB) FailedTransactionRepository {
	return &failedTransactionRepository{db: db}
}

func (r *failedTransactionRepository) Create(ctx context.Context, ft *models.FailedTransaction) error {
	if ft.ID == "" {
		ft.ID = uuid.NewString()
	}
	if ft.Status == "" {
		ft.Status = models.FailedTransactionStatusPending
	}
	return r.db.WithContext(ctx).Create(ft).Error
}

func (r *failedTransactionRepository) Update(ctx context.Context, ft *models.FailedTransaction) error {
	return r.db.WithContext(ctx).Save(ft).Error
}

// FindDue pending rows whose next retry time has passed, oldest first
func (r *failedTransactionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.FailedTransaction, error) {
	var rows []*models.FailedTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ? AND retry_count < max_retries", models.FailedTransactionStatusPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *failedTransactionRepository) FindByTaskID(ctx context.Context, taskID string) ([]*models.FailedTransaction, error) {
	var rows []*models.FailedTransaction
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}
