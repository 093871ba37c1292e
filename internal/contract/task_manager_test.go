package contract

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofplus-coordinator/internal/models"
)

func TestEventIDsMatchSignatures(t *testing.T) {
	tm := MustTaskManager()

	requested, err := tm.EventID(EventTaskRequested)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("TaskRequested(bytes32,address,address,string)")), requested)

	finalized, err := tm.EventID(EventTaskFinalized)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("TaskFinalized(bytes32,bytes32,bytes,bytes)")), finalized)

	_, err = tm.EventID("Unknown")
	assert.Error(t, err)
}

func TestTaskRequestedLogDecodes(t *testing.T) {
	tm := MustTaskManager()
	ev := models.TaskRequested{
		TaskID:    common.HexToHash("0x1234"),
		Requester: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Prover:    common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Endpoint:  "http://prover.local:3000/prove",
		LogPosition: models.LogPosition{
			BlockNumber: 42,
			TxHash:      common.HexToHash("0xfeed"),
			LogIndex:    3,
		},
	}

	log, err := tm.EncodeTaskRequestedLog(ev)
	require.NoError(t, err)

	decoded, err := tm.DecodeTaskRequested(log)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestTaskFinalizedLogDecodes(t *testing.T) {
	tm := MustTaskManager()
	ev := models.TaskFinalized{
		TaskID:          common.HexToHash("0x01"),
		ImageID:         common.HexToHash("0x02"),
		PublicInputHash: crypto.Keccak256([]byte("journal")),
		ProofHash:       crypto.Keccak256([]byte("seal")),
		LogPosition:     models.LogPosition{BlockNumber: 7},
	}

	log, err := tm.EncodeTaskFinalizedLog(ev)
	require.NoError(t, err)

	decoded, err := tm.DecodeTaskFinalized(log)
	require.NoError(t, err)
	assert.Equal(t, ev.TaskID, decoded.TaskID)
	assert.Equal(t, ev.ImageID, decoded.ImageID)
	assert.Equal(t, ev.PublicInputHash, decoded.PublicInputHash)
	assert.Equal(t, ev.ProofHash, decoded.ProofHash)
	assert.Equal(t, uint64(7), decoded.BlockNumber)
}

func TestDecodeRejectsForeignLogs(t *testing.T) {
	tm := MustTaskManager()

	finalized, err := tm.EncodeTaskFinalizedLog(models.TaskFinalized{
		TaskID:          common.HexToHash("0x01"),
		PublicInputHash: []byte{1},
		ProofHash:       []byte{2},
	})
	require.NoError(t, err)

	_, err = tm.DecodeTaskRequested(finalized)
	assert.ErrorIs(t, err, ErrUnexpectedLog)

	wrongTopic := finalized
	wrongTopic.Topics = append([]common.Hash{common.HexToHash("0xdead")}, finalized.Topics[1:]...)
	_, err = tm.DecodeTaskFinalized(wrongTopic)
	assert.ErrorIs(t, err, ErrUnexpectedLog)

	removed := finalized
	removed.Removed = true
	_, err = tm.DecodeTaskFinalized(removed)
	assert.ErrorIs(t, err, ErrUnexpectedLog)

	_, err = tm.DecodeTaskFinalized(types.Log{Topics: finalized.Topics, Data: []byte{0x01}})
	assert.Error(t, err)
}

func TestPackRequestTask(t *testing.T) {
	tm := MustTaskManager()
	data, err := tm.PackRequestTask(1_000_000)
	require.NoError(t, err)

	require.Len(t, data, 4+32)
	assert.Equal(t, crypto.Keccak256([]byte("requestTask(uint256)"))[:4], data[:4])
	assert.Equal(t, "00000000000000000000000000000000000000000000000000000000000f4240", hex.EncodeToString(data[4:]))
}

func TestPackSlash(t *testing.T) {
	tm := MustTaskManager()
	var inputs [32]byte
	inputs[31] = 0x09

	data, err := tm.PackSlash(common.HexToHash("0x01"), inputs, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("slash(bytes32,bytes32,bytes)"))[:4], data[:4])

	args, err := tm.ABI().Methods[MethodSlash].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, [32]byte(common.HexToHash("0x01")), args[0])
	assert.Equal(t, inputs, args[1])
	assert.Equal(t, []byte{0xaa, 0xbb}, args[2])
}

func TestUnpackRequestTask(t *testing.T) {
	tm := MustTaskManager()
	id := common.HexToHash("0xabc")

	output, err := tm.ABI().Methods[MethodRequestTask].Outputs.Pack(id)
	require.NoError(t, err)

	got, err := tm.UnpackRequestTask(output)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestFFICalldataLayout(t *testing.T) {
	var digest [32]byte
	digest[0] = 0xff

	data, err := FFICalldata([]byte("hi"), digest, []byte{1, 2, 3})
	require.NoError(t, err)

	// three head words, then length+data for each dynamic argument
	require.Len(t, data, 3*32+2*32+2*32)
	assert.Equal(t, byte(0x60), data[31])
	assert.Equal(t, byte(0xff), data[32])
	assert.Equal(t, byte(0xa0), data[95])
	assert.Equal(t, byte(0x02), data[127])
	assert.Equal(t, []byte("hi"), data[128:130])
	assert.Equal(t, byte(0x03), data[191])
	assert.Equal(t, []byte{1, 2, 3}, data[192:195])
}
