package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// LogPosition where an event was found on chain
type LogPosition struct {
	BlockNumber uint64      `json:"block_number"`
	TxHash      common.Hash `json:"transaction_hash"`
	LogIndex    uint        `json:"log_index"`
}

// TaskRequested TaskManager.TaskRequested event
type TaskRequested struct {
	TaskID    common.Hash    `json:"task_id"`
	Requester common.Address `json:"requester"`
	Prover    common.Address `json:"prover"`
	Endpoint  string         `json:"endpoint"`
	LogPosition
}

// TaskFinalized TaskManager.TaskFinalized event
type TaskFinalized struct {
	TaskID          common.Hash `json:"task_id"`
	ImageID         common.Hash `json:"image_id"`
	PublicInputHash []byte      `json:"public_input_hash"`
	ProofHash       []byte      `json:"proof_hash"`
	LogPosition
}
