package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"proofplus-coordinator/internal/models"
)

// ErrDuplicateFinalization a second finalization of a task id was attempted
var ErrDuplicateFinalization = errors.New("task already finalized")

// FinalizedTaskRepository append-only store of finalized task outcomes
type FinalizedTaskRepository interface {
	// Insert writes the record, failing with ErrDuplicateFinalization when the task id exists
	Insert(ctx context.Context, task *models.FinalizedTask) (int64, error)
	// FindByTaskID returns nil, nil when no record exists
	FindByTaskID(ctx context.Context, taskID string) (*models.FinalizedTask, error)
	List(ctx context.Context, limit int) ([]*models.FinalizedTask, error)
	Count(ctx context.Context) (int64, error)
}

// finalizedTaskRepository implements FinalizedTaskRepository
type finalizedTaskRepository struct {
	db *gorm.DB
}

// NewFinalizedTaskRepository creates a new FinalizedTaskRepository instance
func NewFinalizedTaskRepository(db *gorm.DB) FinalizedTaskRepository {
	return &finalizedTaskRepository{db: db}
}

func (r *finalizedTaskRepository) Insert(ctx context.Context, task *models.FinalizedTask) (int64, error) {
	result := r.db.WithContext(ctx).Create(task)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return 0, ErrDuplicateFinalization
		}
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *finalizedTaskRepository) FindByTaskID(ctx context.Context, taskID string) (*models.FinalizedTask, error) {
	var task models.FinalizedTask
	err := r.db.WithContext(ctx).Where("task_id = ?", strings.ToLower(taskID)).Limit(1).Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == 0 {
		return nil, nil
	}
	return &task, nil
}

func (r *finalizedTaskRepository) List(ctx context.Context, limit int) ([]*models.FinalizedTask, error) {
	var tasks []*models.FinalizedTask
	query := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *finalizedTaskRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FinalizedTask{}).Count(&count).Error
	return count, err
}

// isUniqueViolation covers drivers without error translation
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
