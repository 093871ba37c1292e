package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/clients"
	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/executor"
	"proofplus-coordinator/internal/models"
)

// ProofRequester forwards work to the proving service
type ProofRequester interface {
	RequestProof(ctx context.Context, endpoint string, req *clients.ProofRequest) (*models.ProofSubmission, error)
}

// TaskDispatcher handles TaskRequested events addressed to this node
type TaskDispatcher struct {
	self       common.Address
	program    *config.Program
	codec      *contract.TaskManager
	executor   executor.Executor
	sender     TransactionSender
	prover     ProofRequester
	tracker    *TaskTracker
	reconciler *ResultReconciler
	logger     *logrus.Logger
}

func NewTaskDispatcher(
	self common.Address,
	program *config.Program,
	codec *contract.TaskManager,
	ex executor.Executor,
	sender TransactionSender,
	prover ProofRequester,
	tracker *TaskTracker,
	reconciler *ResultReconciler,
	logger *logrus.Logger,
) *TaskDispatcher {
	return &TaskDispatcher{
		self:       self,
		program:    program,
		codec:      codec,
		executor:   ex,
		sender:     sender,
		prover:     prover,
		tracker:    tracker,
		reconciler: reconciler,
		logger:     logger,
	}
}

// OnTaskRequested runs the whole dispatch for one event: estimate cycles,
// submit requestTask, forward the proof request and reconcile the returned
// proof. Events for another prover return nil, nil with no side effects.
// Failures move the task to Failed; they are not retried.
func (d *TaskDispatcher) OnTaskRequested(ctx context.Context, event *models.TaskRequested) (*models.ReconcileResult, error) {
	if event.Prover != d.self {
		d.logger.WithFields(logrus.Fields{
			"task_id": event.TaskID.Hex(),
			"prover":  event.Prover.Hex(),
		}).Debug("Task addressed to another prover, ignoring")
		return nil, nil
	}

	logger := d.logger.WithFields(logrus.Fields{
		"task_id":   event.TaskID.Hex(),
		"requester": event.Requester.Hex(),
		"endpoint":  event.Endpoint,
	})

	if !d.tracker.Begin(event.TaskID, event.Requester) {
		logger.Info("Duplicate TaskRequested, ignoring")
		return nil, nil
	}

	result, err := d.dispatch(ctx, event, logger)
	if err != nil {
		if failErr := d.tracker.Fail(event.TaskID, err); failErr != nil {
			logger.WithError(failErr).Debug("Task already left the dispatch path")
		}
		d.reconciler.Forget(event.TaskID)
		return nil, err
	}
	return result, nil
}

func (d *TaskDispatcher) dispatch(ctx context.Context, event *models.TaskRequested, logger *logrus.Entry) (*models.ReconcileResult, error) {
	start := time.Now()
	cycles, err := executor.EstimateCycles(ctx, d.executor, d.program.ELF, d.program.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate cycles: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"cycles":   cycles,
		"duration": time.Since(start),
	}).Info("Cycle estimate ready")

	data, err := d.codec.PackRequestTask(cycles)
	if err != nil {
		return nil, err
	}
	receipt, err := d.sender.Send(ctx, contract.MethodRequestTask, data)
	if err != nil {
		return nil, fmt.Errorf("requestTask submission failed: %w", err)
	}
	logger.WithField("tx_hash", receipt.TxHash.Hex()).Info("requestTask mined")

	if err := d.tracker.Advance(event.TaskID, models.TaskStateProofDispatched); err != nil {
		return nil, err
	}

	req := clients.NewProofRequest(d.program.ELF, d.program.Inputs, d.program.ProverType, event.Requester, event.TaskID, d.program.ImageID)
	submission, err := d.prover.RequestProof(ctx, event.Endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("proof request failed: %w", err)
	}
	logger.WithField("prover_type", submission.ProverType).Info("Proof received")

	if err := d.tracker.Advance(event.TaskID, models.TaskStateProofReceived); err != nil {
		return nil, err
	}

	return d.reconciler.OnProofSubmission(ctx, event.TaskID, submission)
}
