package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/chain"
	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/hashing"
	"proofplus-coordinator/internal/models"
	"proofplus-coordinator/internal/repository"
)

// ErrAlreadySlashed a slash for the task was already submitted by this node
var ErrAlreadySlashed = errors.New("task already slashed")

// TransactionSender signs, submits and waits for one contract call
type TransactionSender interface {
	Send(ctx context.Context, method string, data []byte) (*types.Receipt, error)
}

// SlashService submits TaskManager.slash for mismatched proofs
type SlashService struct {
	codec      *contract.TaskManager
	sender     TransactionSender
	failedRepo repository.FailedTransactionRepository
	maxRetries int
	logger     *logrus.Logger

	now      func() time.Time
	mu       sync.Mutex
	attempts map[common.Hash]time.Time
}

// slashGuardRetention how long a slashed task is remembered. Both
// reconciliation paths for a task finish well within it.
const slashGuardRetention = time.Hour

func NewSlashService(codec *contract.TaskManager, sender TransactionSender, failedRepo repository.FailedTransactionRepository, maxRetries int, logger *logrus.Logger) *SlashService {
	return &SlashService{
		codec:      codec,
		sender:     sender,
		failedRepo: failedRepo,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
		attempts:   make(map[common.Hash]time.Time),
	}
}

// Slash submits at most one slash per task. A reverted call is final; any
// other failure is stored for the retry service.
func (s *SlashService) Slash(ctx context.Context, taskID common.Hash, publicInputsHash hashing.Digest, proof []byte) error {
	s.mu.Lock()
	now := s.now()
	for id, at := range s.attempts {
		if now.Sub(at) > slashGuardRetention {
			delete(s.attempts, id)
		}
	}
	if _, done := s.attempts[taskID]; done {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySlashed, taskID.Hex())
	}
	s.attempts[taskID] = now
	s.mu.Unlock()

	data, err := s.codec.PackSlash(taskID, publicInputsHash, proof)
	if err != nil {
		return fmt.Errorf("failed to pack slash: %w", err)
	}

	logger := s.logger.WithField("task_id", taskID.Hex())
	receipt, err := s.sender.Send(ctx, contract.MethodSlash, data)
	switch {
	case err == nil:
		logger.WithField("tx_hash", receipt.TxHash.Hex()).Info("Slash transaction mined")
		return nil
	case errors.Is(err, chain.ErrTransactionReverted):
		logger.WithError(err).Warn("Slash transaction reverted")
		return err
	}

	logger.WithError(err).Error("Slash submission failed, scheduling retry")
	if s.failedRepo == nil {
		return err
	}
	failed := &models.FailedTransaction{
		TxType:        models.FailedTransactionTypeSlash,
		TaskID:        models.TaskKey(taskID),
		CallData:      hex.EncodeToString(data),
		MaxRetries:    s.maxRetries,
		OriginalError: err.Error(),
		LastError:     err.Error(),
	}
	failed.NextRetryAt = failed.CalculateNextRetryTime()
	if recordErr := s.failedRepo.Create(ctx, failed); recordErr != nil {
		return errors.Join(err, fmt.Errorf("failed to record failed slash: %w", recordErr))
	}
	return err
}
