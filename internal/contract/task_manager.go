package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"proofplus-coordinator/internal/models"
)

// TaskManagerABI subset of the TaskManager contract used by the coordinator
const TaskManagerABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "taskId", "type": "bytes32"},
			{"indexed": true, "name": "requester", "type": "address"},
			{"indexed": true, "name": "prover", "type": "address"},
			{"indexed": false, "name": "endpoint", "type": "string"}
		],
		"name": "TaskRequested",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "taskId", "type": "bytes32"},
			{"indexed": true, "name": "imageId", "type": "bytes32"},
			{"indexed": false, "name": "publicInputHash", "type": "bytes"},
			{"indexed": false, "name": "proofHash", "type": "bytes"}
		],
		"name": "TaskFinalized",
		"type": "event"
	},
	{
		"inputs": [{"name": "cycleCount", "type": "uint256"}],
		"name": "requestTask",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "bytes32"},
			{"name": "publicInputsHash", "type": "bytes32"},
			{"name": "proof", "type": "bytes"}
		],
		"name": "slash",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const (
	EventTaskRequested = "TaskRequested"
	EventTaskFinalized = "TaskFinalized"

	MethodRequestTask = "requestTask"
	MethodSlash       = "slash"
)

var ErrUnexpectedLog = errors.New("log does not belong to the expected event")

// TaskManager ABI codec for the TaskManager contract
type TaskManager struct {
	abi abi.ABI
}

// NewTaskManager parses the embedded ABI
func NewTaskManager() (*TaskManager, error) {
	parsed, err := abi.JSON(strings.NewReader(TaskManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse TaskManager ABI: %w", err)
	}
	return &TaskManager{abi: parsed}, nil
}

// MustTaskManager panics if the embedded ABI does not parse
func MustTaskManager() *TaskManager {
	tm, err := NewTaskManager()
	if err != nil {
		panic(err)
	}
	return tm
}

// ABI returns the parsed ABI
func (tm *TaskManager) ABI() abi.ABI {
	return tm.abi
}

// EventID topic0 of the named event
func (tm *TaskManager) EventID(name string) (common.Hash, error) {
	ev, ok := tm.abi.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not in TaskManager ABI", name)
	}
	return ev.ID, nil
}

// PackRequestTask calldata for requestTask(uint256)
func (tm *TaskManager) PackRequestTask(cycleCount uint64) ([]byte, error) {
	data, err := tm.abi.Pack(MethodRequestTask, new(big.Int).SetUint64(cycleCount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", MethodRequestTask, err)
	}
	return data, nil
}

// PackSlash calldata for slash(bytes32,bytes32,bytes)
func (tm *TaskManager) PackSlash(taskID common.Hash, publicInputsHash [32]byte, proof []byte) ([]byte, error) {
	data, err := tm.abi.Pack(MethodSlash, taskID, publicInputsHash, proof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", MethodSlash, err)
	}
	return data, nil
}

// UnpackRequestTask decodes the bytes32 returned by requestTask
func (tm *TaskManager) UnpackRequestTask(output []byte) (common.Hash, error) {
	values, err := tm.abi.Unpack(MethodRequestTask, output)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to unpack %s: %w", MethodRequestTask, err)
	}
	if len(values) != 1 {
		return common.Hash{}, fmt.Errorf("%s returned %d values", MethodRequestTask, len(values))
	}
	id, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("%s returned %T", MethodRequestTask, values[0])
	}
	return common.Hash(id), nil
}

type taskRequestedData struct {
	Endpoint string
}

type taskFinalizedData struct {
	PublicInputHash []byte
	ProofHash       []byte
}

// DecodeTaskRequested decodes a TaskRequested log
func (tm *TaskManager) DecodeTaskRequested(log types.Log) (models.TaskRequested, error) {
	var out models.TaskRequested
	if err := tm.checkTopics(log, EventTaskRequested, 4); err != nil {
		return out, err
	}

	var data taskRequestedData
	if err := tm.abi.UnpackIntoInterface(&data, EventTaskRequested, log.Data); err != nil {
		return out, fmt.Errorf("failed to unpack %s data: %w", EventTaskRequested, err)
	}

	out.TaskID = log.Topics[1]
	out.Requester = common.BytesToAddress(log.Topics[2].Bytes())
	out.Prover = common.BytesToAddress(log.Topics[3].Bytes())
	out.Endpoint = data.Endpoint
	out.LogPosition = position(log)
	return out, nil
}

// DecodeTaskFinalized decodes a TaskFinalized log
func (tm *TaskManager) DecodeTaskFinalized(log types.Log) (models.TaskFinalized, error) {
	var out models.TaskFinalized
	if err := tm.checkTopics(log, EventTaskFinalized, 3); err != nil {
		return out, err
	}

	var data taskFinalizedData
	if err := tm.abi.UnpackIntoInterface(&data, EventTaskFinalized, log.Data); err != nil {
		return out, fmt.Errorf("failed to unpack %s data: %w", EventTaskFinalized, err)
	}

	out.TaskID = log.Topics[1]
	out.ImageID = log.Topics[2]
	out.PublicInputHash = data.PublicInputHash
	out.ProofHash = data.ProofHash
	out.LogPosition = position(log)
	return out, nil
}

// EncodeTaskRequestedLog builds the log a TaskRequested emission produces
func (tm *TaskManager) EncodeTaskRequestedLog(ev models.TaskRequested) (types.Log, error) {
	event := tm.abi.Events[EventTaskRequested]
	data, err := event.Inputs.NonIndexed().Pack(ev.Endpoint)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s data: %w", EventTaskRequested, err)
	}
	return types.Log{
		Topics: []common.Hash{
			event.ID,
			ev.TaskID,
			common.BytesToHash(ev.Requester.Bytes()),
			common.BytesToHash(ev.Prover.Bytes()),
		},
		Data:        data,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		Index:       ev.LogIndex,
	}, nil
}

// EncodeTaskFinalizedLog builds the log a TaskFinalized emission produces
func (tm *TaskManager) EncodeTaskFinalizedLog(ev models.TaskFinalized) (types.Log, error) {
	event := tm.abi.Events[EventTaskFinalized]
	data, err := event.Inputs.NonIndexed().Pack(ev.PublicInputHash, ev.ProofHash)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s data: %w", EventTaskFinalized, err)
	}
	return types.Log{
		Topics:      []common.Hash{event.ID, ev.TaskID, ev.ImageID},
		Data:        data,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		Index:       ev.LogIndex,
	}, nil
}

func (tm *TaskManager) checkTopics(log types.Log, name string, want int) error {
	if log.Removed {
		return fmt.Errorf("%w: %s log was removed by a reorg", ErrUnexpectedLog, name)
	}
	if len(log.Topics) != want {
		return fmt.Errorf("%w: %s expects %d topics, got %d", ErrUnexpectedLog, name, want, len(log.Topics))
	}
	if log.Topics[0] != tm.abi.Events[name].ID {
		return fmt.Errorf("%w: topic0 %s is not %s", ErrUnexpectedLog, log.Topics[0].Hex(), name)
	}
	return nil
}

func position(log types.Log) models.LogPosition {
	return models.LogPosition{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}
}

// FFICalldata abi.encode(bytes journal, bytes32 postStateDigest, bytes seal)
func FFICalldata(journal []byte, postStateDigest [32]byte, seal []byte) ([]byte, error) {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	bytes32Type, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: bytesType}, {Type: bytes32Type}, {Type: bytesType}}
	return args.Pack(journal, postStateDigest, seal)
}
