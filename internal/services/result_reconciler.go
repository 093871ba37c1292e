package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/hashing"
	"proofplus-coordinator/internal/metrics"
	"proofplus-coordinator/internal/models"
	"proofplus-coordinator/internal/repository"
)

// Slasher submits the on-chain penalty for a task whose proof failed verification
type Slasher interface {
	Slash(ctx context.Context, taskID common.Hash, publicInputsHash hashing.Digest, proof []byte) error
}

// OutcomePublisher receives every reconciliation result
type OutcomePublisher interface {
	PublishOutcome(result *models.ReconcileResult) error
}

// ReconcilerConfig store polling bounds
type ReconcilerConfig struct {
	Attempts int
	Delay    time.Duration
}

type computedDigests struct {
	publicInput hashing.Digest
	proof       hashing.Digest
	seal        []byte
}

// directCheck pairs what this node computed with what the chain finalized,
// for tasks this node requested itself. Whichever side arrives second runs it.
// The entry is dropped once the check has run.
type directCheck struct {
	computed  *computedDigests
	finalized *models.TaskFinalized
}

// ResultReconciler verifies proofs against finalized outcomes
type ResultReconciler struct {
	store     repository.FinalizedTaskRepository
	tracker   *TaskTracker
	slasher   Slasher
	publisher OutcomePublisher
	cfg       ReconcilerConfig
	logger    *logrus.Logger

	mu      sync.Mutex
	waiters map[common.Hash][]chan struct{}
	direct  map[common.Hash]*directCheck
}

// NewResultReconciler slasher and publisher may be nil
func NewResultReconciler(store repository.FinalizedTaskRepository, tracker *TaskTracker, slasher Slasher, publisher OutcomePublisher, cfg ReconcilerConfig, logger *logrus.Logger) *ResultReconciler {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	return &ResultReconciler{
		store:     store,
		tracker:   tracker,
		slasher:   slasher,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		waiters:   make(map[common.Hash][]chan struct{}),
		direct:    make(map[common.Hash]*directCheck),
	}
}

// MarkRequested records that this node both requested and proves taskID,
// enabling direct verification against its TaskFinalized event.
func (r *ResultReconciler) MarkRequested(taskID common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.direct[taskID]; !ok {
		r.direct[taskID] = &directCheck{}
	}
}

// Forget drops a pending direct verification, used when dispatch failed
func (r *ResultReconciler) Forget(taskID common.Hash) {
	r.mu.Lock()
	delete(r.direct, taskID)
	r.mu.Unlock()
}

func (r *ResultReconciler) pendingDirectChecks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.direct)
}

// OnProofSubmission verifies a proof returned by the proving service against
// the finalized record in the store. Timeout and mismatch are outcomes, not
// errors; an error means the submission itself was unusable.
func (r *ResultReconciler) OnProofSubmission(ctx context.Context, taskID common.Hash, submission *models.ProofSubmission) (*models.ReconcileResult, error) {
	logger := r.logger.WithFields(logrus.Fields{
		"task_id":     taskID.Hex(),
		"prover_type": submission.ProverType,
	})

	payload, err := submission.Payload()
	if err != nil {
		return nil, fmt.Errorf("unusable proof submission for %s: %w", taskID.Hex(), err)
	}

	var rz models.RiscZeroPayload
	switch p := payload.(type) {
	case models.RiscZeroPayload:
		rz = p
	case models.SP1Payload:
		// accepted and recorded, never hash-verified
		result := &models.ReconcileResult{
			TaskID:  taskID,
			Outcome: models.OutcomeUnverified,
			Source:  models.SourceStore,
		}
		logger.Warn("SP1 proofs are not hash-verified")
		r.finish(ctx, result, nil)
		return result, nil
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownProverType, payload)
	}

	computed := &computedDigests{
		publicInput: hashing.DigestPublicInput(rz.Journal),
		proof:       hashing.DigestProof(rz.Seal),
		seal:        rz.Seal,
	}
	logger.WithFields(logrus.Fields{
		"public_input_hash": computed.publicInput.Hex(),
		"proof_hash":        computed.proof.Hex(),
	}).Info("Computed proof digests")

	r.recordComputed(ctx, taskID, computed)

	record, attempts, err := r.awaitRecord(ctx, taskID)
	if err != nil {
		return nil, err
	}
	metrics.StoreLookupAttempts.Observe(float64(attempts))

	result := &models.ReconcileResult{
		TaskID:   taskID,
		Source:   models.SourceStore,
		Attempts: attempts,
	}
	if record == nil {
		result.Outcome = models.OutcomeTimedOut
		logger.WithField("attempts", attempts).Warn("No finalized record found, reconciliation timed out")
		r.finish(ctx, result, nil)
		return result, nil
	}

	storedInput, inputErr := record.PublicInputDigest()
	storedProof, proofErr := record.ProofDigest()
	if err := errors.Join(inputErr, proofErr); err != nil {
		logger.WithError(err).Error("Stored finalized record is not valid hex, treating as mismatch")
	}
	result.PublicInputHash = storedInput
	result.ProofHash = storedProof

	if inputErr == nil && proofErr == nil && computed.publicInput.Equal(storedInput) && computed.proof.Equal(storedProof) {
		result.Outcome = models.OutcomeMatched
	} else {
		result.Outcome = models.OutcomeMismatched
		result.Slashable = true
	}
	r.finish(ctx, result, computed)
	return result, nil
}

// awaitRecord polls the store up to cfg.Attempts times. The delay between
// attempts is cut short when the record for taskID is inserted.
func (r *ResultReconciler) awaitRecord(ctx context.Context, taskID common.Hash) (*models.FinalizedTask, int, error) {
	key := models.TaskKey(taskID)
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		wake := r.subscribe(taskID)

		record, err := r.store.FindByTaskID(ctx, key)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"task_id": key,
				"attempt": attempt,
			}).WithError(err).Warn("Finalized record lookup failed")
		}
		if err == nil && record != nil {
			r.unsubscribe(taskID, wake)
			return record, attempt, nil
		}

		if attempt == r.cfg.Attempts {
			r.unsubscribe(taskID, wake)
			break
		}

		timer := time.NewTimer(r.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.unsubscribe(taskID, wake)
			return nil, attempt, ctx.Err()
		case <-wake:
		case <-timer.C:
			r.unsubscribe(taskID, wake)
		}
		timer.Stop()
	}
	return nil, r.cfg.Attempts, nil
}

func (r *ResultReconciler) subscribe(taskID common.Hash) chan struct{} {
	ch := make(chan struct{})
	r.mu.Lock()
	r.waiters[taskID] = append(r.waiters[taskID], ch)
	r.mu.Unlock()
	return ch
}

func (r *ResultReconciler) unsubscribe(taskID common.Hash, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[taskID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.waiters, taskID)
	} else {
		r.waiters[taskID] = list
	}
}

func (r *ResultReconciler) notifyInserted(taskID common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.waiters[taskID] {
		close(ch)
	}
	delete(r.waiters, taskID)
}

// OnTaskFinalized persists the finalized record. A second finalization of
// the same task returns repository.ErrDuplicateFinalization. When this node
// requested the task and already holds its proof, the direct verification
// result is returned as well.
func (r *ResultReconciler) OnTaskFinalized(ctx context.Context, event *models.TaskFinalized) (*models.ReconcileResult, error) {
	logger := r.logger.WithFields(logrus.Fields{
		"task_id":  event.TaskID.Hex(),
		"image_id": event.ImageID.Hex(),
		"block":    event.BlockNumber,
	})

	if _, err := r.store.Insert(ctx, models.NewFinalizedTask(event)); err != nil {
		if errors.Is(err, repository.ErrDuplicateFinalization) {
			logger.Error("Duplicate finalization rejected")
			return nil, fmt.Errorf("task %s: %w", event.TaskID.Hex(), err)
		}
		return nil, fmt.Errorf("failed to persist finalized task %s: %w", event.TaskID.Hex(), err)
	}
	logger.Info("Finalized task stored")
	r.notifyInserted(event.TaskID)

	r.mu.Lock()
	var computed *computedDigests
	if check, requested := r.direct[event.TaskID]; requested {
		check.finalized = event
		computed = check.computed
		if computed != nil {
			delete(r.direct, event.TaskID)
		}
	}
	r.mu.Unlock()

	if computed == nil {
		return nil, nil
	}
	return r.verifyDirect(ctx, event, computed), nil
}

func (r *ResultReconciler) recordComputed(ctx context.Context, taskID common.Hash, computed *computedDigests) {
	r.mu.Lock()
	var finalized *models.TaskFinalized
	if check, requested := r.direct[taskID]; requested {
		check.computed = computed
		finalized = check.finalized
		if finalized != nil {
			delete(r.direct, taskID)
		}
	}
	r.mu.Unlock()

	if finalized != nil {
		r.verifyDirect(ctx, finalized, computed)
	}
}

// verifyDirect compares independently computed digests with the values the
// TaskFinalized event reported
func (r *ResultReconciler) verifyDirect(ctx context.Context, event *models.TaskFinalized, computed *computedDigests) *models.ReconcileResult {
	result := &models.ReconcileResult{
		TaskID:          event.TaskID,
		Source:          models.SourceFinalizedEvent,
		PublicInputHash: bytes.Clone(event.PublicInputHash),
		ProofHash:       bytes.Clone(event.ProofHash),
	}
	if computed.publicInput.Equal(event.PublicInputHash) && computed.proof.Equal(event.ProofHash) {
		result.Outcome = models.OutcomeMatched
	} else {
		result.Outcome = models.OutcomeMismatched
		result.Slashable = true
	}
	r.finish(ctx, result, computed)
	return result
}

// finish records, slashes on mismatch and publishes one result
func (r *ResultReconciler) finish(ctx context.Context, result *models.ReconcileResult, computed *computedDigests) {
	logger := r.logger.WithFields(logrus.Fields{
		"task_id":  result.TaskID.Hex(),
		"outcome":  result.Outcome,
		"source":   result.Source,
		"attempts": result.Attempts,
	})
	metrics.ReconcileOutcomes.WithLabelValues(string(result.Outcome)).Inc()

	if err := r.tracker.Complete(result.TaskID, result.Outcome); err != nil && !errors.Is(err, ErrInvalidTransition) {
		logger.WithError(err).Warn("Failed to record reconciliation")
	}

	if result.Slashable {
		logger.Error("Proof does not match finalized hashes, task is slashable")
		if r.slasher != nil && computed != nil {
			err := r.slasher.Slash(ctx, result.TaskID, computed.publicInput, computed.seal)
			switch {
			case errors.Is(err, ErrAlreadySlashed):
				logger.Debug("Task already slashed")
			case err != nil:
				logger.WithError(err).Error("Slash submission failed")
			}
		}
	} else {
		logger.Info("Reconciliation finished")
	}

	if r.publisher != nil {
		if err := r.publisher.PublishOutcome(result); err != nil {
			logger.WithError(err).Warn("Failed to publish reconciliation outcome")
		}
	}
}
