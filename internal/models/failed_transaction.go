package models

import (
	"time"
)

// FailedTransactionStatus retry status of a failed submission
type FailedTransactionStatus string

const (
	FailedTransactionStatusPending   FailedTransactionStatus = "pending"   // waiting for retry
	FailedTransactionStatusRetrying  FailedTransactionStatus = "retrying"  // retry in progress
	FailedTransactionStatusRecovered FailedTransactionStatus = "recovered" // resubmitted and mined
	FailedTransactionStatusAbandoned FailedTransactionStatus = "abandoned" // reached max retries
)

// FailedTransactionType contract call that failed
type FailedTransactionType string

const (
	FailedTransactionTypeSlash FailedTransactionType = "slash"
)

// FailedTransaction a contract call that could not be mined, kept for resubmission
type FailedTransaction struct {
	ID     string                  `json:"id" gorm:"primaryKey"` // UUID
	TxType FailedTransactionType   `json:"tx_type" gorm:"not null"`
	Status FailedTransactionStatus `json:"status" gorm:"not null;default:pending;index"`

	TaskID   string `json:"task_id" gorm:"type:varchar(66);not null;index"`
	CallData string `json:"call_data" gorm:"type:text;not null"` // hex encoded calldata
	TxHash   string `json:"tx_hash"`

	RetryCount  int       `json:"retry_count" gorm:"default:0"`
	MaxRetries  int       `json:"max_retries" gorm:"default:10"`
	NextRetryAt time.Time `json:"next_retry_at" gorm:"index"`

	LastError     string `json:"last_error" gorm:"type:text"`
	OriginalError string `json:"original_error" gorm:"type:text"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// TableName table name
func (FailedTransaction) TableName() string {
	return "failed_transactions"
}

// CalculateNextRetryTime exponential backoff: 10s, 20s, 40s ... capped at 10 minutes
func (ft *FailedTransaction) CalculateNextRetryTime() time.Time {
	baseDelay := 10 * time.Second

	delay := baseDelay * time.Duration(1<<uint(ft.RetryCount))
	maxDelay := 10 * time.Minute

	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	return time.Now().Add(delay)
}

// IncrementRetry records a failed attempt and schedules the next one
func (ft *FailedTransaction) IncrementRetry(errorMsg string) {
	ft.RetryCount++
	ft.LastError = errorMsg
	ft.NextRetryAt = ft.CalculateNextRetryTime()
	ft.Status = FailedTransactionStatusPending

	if ft.RetryCount >= ft.MaxRetries {
		ft.Status = FailedTransactionStatusAbandoned
		now := time.Now()
		ft.ResolvedAt = &now
	}
}

// MarkAsRecovered records the transaction that finally got mined
func (ft *FailedTransaction) MarkAsRecovered(actualTxHash string) {
	ft.Status = FailedTransactionStatusRecovered
	ft.TxHash = actualTxHash
	now := time.Now()
	ft.ResolvedAt = &now
}
