package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"proofplus-coordinator/internal/metrics"
	"proofplus-coordinator/internal/models"
)

var ErrInvalidTransition = errors.New("invalid task state transition")

// TaskTracker per-task state machine as seen from this node.
// States only move forward; a Failed task may be begun again.
type TaskTracker struct {
	mu    sync.RWMutex
	tasks map[common.Hash]*models.TaskStatus
	now   func() time.Time
}

func NewTaskTracker() *TaskTracker {
	return &TaskTracker{
		tasks: make(map[common.Hash]*models.TaskStatus),
		now:   time.Now,
	}
}

// Begin moves an unseen or Failed task to Requested. It returns false when the
// task is already in flight or reconciled, in which case the event is a duplicate.
func (t *TaskTracker) Begin(taskID common.Hash, requester common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if status, ok := t.tasks[taskID]; ok && status.State != models.TaskStateFailed {
		return false
	}
	if old, ok := t.tasks[taskID]; ok {
		metrics.TasksInState.WithLabelValues(string(old.State)).Dec()
	}
	t.tasks[taskID] = &models.TaskStatus{
		TaskID:    taskID,
		State:     models.TaskStateRequested,
		Requester: requester,
		UpdatedAt: t.now(),
	}
	metrics.TasksInState.WithLabelValues(string(models.TaskStateRequested)).Inc()
	return true
}

// Advance moves a tracked task strictly forward to a non-terminal state
func (t *TaskTracker) Advance(taskID common.Hash, to models.TaskState) error {
	if to.Terminal() {
		return fmt.Errorf("%w: use Complete or Fail to enter %s", ErrInvalidTransition, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(taskID, to, func(*models.TaskStatus) {})
}

// Complete moves the task to Reconciled with its outcome
func (t *TaskTracker) Complete(taskID common.Hash, outcome models.ReconcileOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(taskID, models.TaskStateReconciled, func(s *models.TaskStatus) {
		s.Outcome = outcome
	})
}

// Fail moves the task to Failed, recording the cause
func (t *TaskTracker) Fail(taskID common.Hash, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(taskID, models.TaskStateFailed, func(s *models.TaskStatus) {
		if cause != nil {
			s.LastError = cause.Error()
		}
	})
}

func (t *TaskTracker) moveLocked(taskID common.Hash, to models.TaskState, apply func(*models.TaskStatus)) error {
	status, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s is not tracked", ErrInvalidTransition, taskID.Hex())
	}
	if status.State.Terminal() || to.Rank() <= status.State.Rank() {
		return fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, status.State, to, taskID.Hex())
	}

	metrics.TasksInState.WithLabelValues(string(status.State)).Dec()
	status.State = to
	status.UpdatedAt = t.now()
	apply(status)
	metrics.TasksInState.WithLabelValues(string(to)).Inc()
	return nil
}

// Get a copy of the tracked status
func (t *TaskTracker) Get(taskID common.Hash) (models.TaskStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.tasks[taskID]
	if !ok {
		return models.TaskStatus{}, false
	}
	return *status, true
}

// List copies of all tracked statuses, most recently updated first
func (t *TaskTracker) List() []models.TaskStatus {
	t.mu.RLock()
	out := make([]models.TaskStatus, 0, len(t.tasks))
	for _, status := range t.tasks {
		out = append(out, *status)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
