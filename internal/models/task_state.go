package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TaskState position of a task in the coordinator's state machine
type TaskState string

const (
	TaskStateIdle            TaskState = "idle"
	TaskStateRequested       TaskState = "requested"
	TaskStateProofDispatched TaskState = "proof_dispatched"
	TaskStateProofReceived   TaskState = "proof_received"
	TaskStateReconciled      TaskState = "reconciled" // terminal
	TaskStateFailed          TaskState = "failed"     // terminal, may be re-requested
)

// Rank orders the forward-only states. Failed shares the rank of Reconciled.
func (s TaskState) Rank() int {
	switch s {
	case TaskStateIdle:
		return 0
	case TaskStateRequested:
		return 1
	case TaskStateProofDispatched:
		return 2
	case TaskStateProofReceived:
		return 3
	case TaskStateReconciled, TaskStateFailed:
		return 4
	default:
		return -1
	}
}

// Terminal reports whether no further transition is expected
func (s TaskState) Terminal() bool {
	return s == TaskStateReconciled || s == TaskStateFailed
}

// ReconcileOutcome result of matching computed hashes against reported ones
type ReconcileOutcome string

const (
	OutcomeMatched    ReconcileOutcome = "matched"
	OutcomeMismatched ReconcileOutcome = "mismatched"
	OutcomeTimedOut   ReconcileOutcome = "timed_out"
	OutcomeUnverified ReconcileOutcome = "unverified" // SP1 submissions are not hash-verified
)

// ReconcileSource where the reported hashes came from
type ReconcileSource string

const (
	SourceStore          ReconcileSource = "store"
	SourceFinalizedEvent ReconcileSource = "finalized_event"
)

// ReconcileResult observable outcome of one reconciliation
type ReconcileResult struct {
	TaskID          common.Hash      `json:"task_id"`
	Outcome         ReconcileOutcome `json:"outcome"`
	Source          ReconcileSource  `json:"source"`
	PublicInputHash []byte           `json:"public_input_hash,omitempty"`
	ProofHash       []byte           `json:"proof_hash,omitempty"`
	Attempts        int              `json:"attempts"`
	Slashable       bool             `json:"slashable"`
}

// TaskStatus tracked view of one task
type TaskStatus struct {
	TaskID    common.Hash      `json:"task_id"`
	State     TaskState        `json:"state"`
	Outcome   ReconcileOutcome `json:"outcome,omitempty"`
	Requester common.Address   `json:"requester"`
	LastError string           `json:"last_error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}
