package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/chain"
	"proofplus-coordinator/internal/models"
	"proofplus-coordinator/internal/repository"
)

const retryBatchSize = 50

// FailedTransactionRetryService resubmits contract calls that could not be mined
type FailedTransactionRetryService struct {
	repo     repository.FailedTransactionRepository
	sender   TransactionSender
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewFailedTransactionRetryService creates the retry service
func NewFailedTransactionRetryService(repo repository.FailedTransactionRepository, sender TransactionSender, interval time.Duration, logger *logrus.Logger) *FailedTransactionRetryService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FailedTransactionRetryService{
		repo:     repo,
		sender:   sender,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run checks for due transactions on every tick until ctx is done
func (s *FailedTransactionRetryService) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval).Info("Starting failed transaction retry service")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx); err != nil {
				s.logger.WithError(err).Error("Failed transaction retry pass failed")
			}
		}
	}
}

// ProcessDue resubmits every due row once and returns how many recovered
func (s *FailedTransactionRetryService) ProcessDue(ctx context.Context) (int, error) {
	rows, err := s.repo.FindDue(ctx, s.now(), retryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query failed transactions: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	s.logger.WithField("count", len(rows)).Info("Retrying failed transactions")

	recovered := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		ok, err := s.processOne(ctx, row)
		if err != nil {
			s.logger.WithField("id", row.ID).WithError(err).Error("Failed to process failed transaction")
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

func (s *FailedTransactionRetryService) processOne(ctx context.Context, row *models.FailedTransaction) (bool, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"id":      row.ID,
		"tx_type": row.TxType,
		"task_id": row.TaskID,
		"retry":   fmt.Sprintf("%d/%d", row.RetryCount+1, row.MaxRetries),
	})

	data, err := models.DecodeHex(row.CallData)
	if err != nil {
		row.Status = models.FailedTransactionStatusAbandoned
		row.LastError = fmt.Sprintf("calldata is not hex: %v", err)
		now := s.now()
		row.ResolvedAt = &now
		return false, errors.Join(err, s.repo.Update(ctx, row))
	}

	row.Status = models.FailedTransactionStatusRetrying
	if err := s.repo.Update(ctx, row); err != nil {
		return false, fmt.Errorf("failed to mark as retrying: %w", err)
	}

	receipt, err := s.sender.Send(ctx, string(row.TxType), data)
	switch {
	case err == nil:
		row.MarkAsRecovered(receipt.TxHash.Hex())
		logger.WithField("tx_hash", row.TxHash).Info("Failed transaction recovered")
		return true, s.repo.Update(ctx, row)
	case errors.Is(err, chain.ErrTransactionReverted):
		// mined but rejected, resending the same calldata cannot succeed
		row.Status = models.FailedTransactionStatusAbandoned
		row.LastError = err.Error()
		if receipt != nil {
			row.TxHash = receipt.TxHash.Hex()
		}
		now := s.now()
		row.ResolvedAt = &now
		logger.Warn("Retried transaction reverted, abandoning")
		return false, s.repo.Update(ctx, row)
	default:
		row.IncrementRetry(err.Error())
		logger.WithError(err).WithField("status", row.Status).Warn("Retry failed")
		return false, s.repo.Update(ctx, row)
	}
}
