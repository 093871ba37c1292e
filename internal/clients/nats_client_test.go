package clients

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"proofplus-coordinator/internal/models"
)

func TestOutcomeSubjects(t *testing.T) {
	assert.Equal(t, "proofplus.reconciled.matched", OutcomeSubject("proofplus", models.OutcomeMatched))
	assert.Equal(t, "proofplus.reconciled.timed_out", OutcomeSubject("proofplus", models.OutcomeTimedOut))
	assert.Equal(t, "proofplus.slashable", SlashableSubject("proofplus"))
}

func TestNewOutcomeMessage(t *testing.T) {
	msg := NewOutcomeMessage(&models.ReconcileResult{
		TaskID:          common.HexToHash("0x01"),
		Outcome:         models.OutcomeMismatched,
		Source:          models.SourceStore,
		PublicInputHash: []byte{0xAB},
		ProofHash:       []byte{0x0c},
		Attempts:        2,
		Slashable:       true,
	})

	assert.Equal(t, models.TaskKey(common.HexToHash("0x01")), msg.TaskID)
	assert.Equal(t, "ab", msg.PublicInputHash)
	assert.Equal(t, "0c", msg.ProofHash)
	assert.True(t, msg.Slashable)
	assert.NotZero(t, msg.Timestamp)

	timedOut := NewOutcomeMessage(&models.ReconcileResult{Outcome: models.OutcomeTimedOut, Attempts: 5})
	assert.Empty(t, timedOut.PublicInputHash)
	assert.Empty(t, timedOut.ProofHash)
}
