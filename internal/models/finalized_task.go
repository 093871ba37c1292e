package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FinalizedTask durable outcome of a task, written once per task id
type FinalizedTask struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID          string    `json:"task_id" gorm:"type:varchar(66);not null;uniqueIndex"`
	ImageID         string    `json:"image_id" gorm:"type:varchar(66);not null"`
	PublicInputHash string    `json:"public_input_hash" gorm:"type:text;not null"`
	ProofHash       string    `json:"proof_hash" gorm:"type:text;not null"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName table name
func (FinalizedTask) TableName() string {
	return "finalized_tasks"
}

// TaskKey canonical store key of a task id (0x + lowercase hex)
func TaskKey(taskID common.Hash) string {
	return taskID.Hex()
}

// NewFinalizedTask builds the record for a TaskFinalized event
func NewFinalizedTask(event *TaskFinalized) *FinalizedTask {
	return &FinalizedTask{
		TaskID:          TaskKey(event.TaskID),
		ImageID:         event.ImageID.Hex(),
		PublicInputHash: hex.EncodeToString(event.PublicInputHash),
		ProofHash:       hex.EncodeToString(event.ProofHash),
	}
}

// PublicInputDigest raw bytes of the stored public input hash
func (t *FinalizedTask) PublicInputDigest() ([]byte, error) {
	b, err := DecodeHex(t.PublicInputHash)
	if err != nil {
		return nil, fmt.Errorf("stored public_input_hash of %s is not hex: %w", t.TaskID, err)
	}
	return b, nil
}

// ProofDigest raw bytes of the stored proof hash
func (t *FinalizedTask) ProofDigest() ([]byte, error) {
	b, err := DecodeHex(t.ProofHash)
	if err != nil {
		return nil, fmt.Errorf("stored proof_hash of %s is not hex: %w", t.TaskID, err)
	}
	return b, nil
}
