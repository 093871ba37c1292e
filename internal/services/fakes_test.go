package services

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"proofplus-coordinator/internal/chain"
	"proofplus-coordinator/internal/clients"
	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/db"
	"proofplus-coordinator/internal/hashing"
	"proofplus-coordinator/internal/models"
	"proofplus-coordinator/internal/repository"
)

const (
	emptySHA256    = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	emptyKeccak256 = "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
)

func testLogger() *logrus.Logger {
	logger, _ := logrustest.NewNullLogger()
	return logger
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}

func riscZeroSubmission(journal, seal []byte) *models.ProofSubmission {
	return &models.ProofSubmission{
		ProverType: models.ProverTypeRiscZero,
		Receipt: &models.Receipt{
			Journal: models.Journal{Bytes: journal},
			Inner:   models.InnerReceipt{Groth16: &models.Groth16Receipt{Seal: seal}},
		},
	}
}

// countingStore counts lookups on top of a real repository
type countingStore struct {
	repository.FinalizedTaskRepository
	lookups atomic.Int32
}

func (s *countingStore) FindByTaskID(ctx context.Context, taskID string) (*models.FinalizedTask, error) {
	s.lookups.Add(1)
	return s.FinalizedTaskRepository.FindByTaskID(ctx, taskID)
}

type sentCall struct {
	method string
	data   []byte
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

func (s *fakeSender) Send(_ context.Context, method string, data []byte) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentCall{method: method, data: data})
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.BigToHash(big.NewInt(int64(len(s.calls)))),
	}
	if s.err != nil {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, s.err
	}
	return receipt, nil
}

func (s *fakeSender) sent() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentCall(nil), s.calls...)
}

type proofCall struct {
	endpoint string
	req      *clients.ProofRequest
}

type fakeProver struct {
	mu         sync.Mutex
	calls      []proofCall
	submission *models.ProofSubmission
	err        error
	// when set, the request for this task blocks until release is closed
	holdTask common.Hash
	release  chan struct{}
}

func (p *fakeProver) RequestProof(ctx context.Context, endpoint string, req *clients.ProofRequest) (*models.ProofSubmission, error) {
	p.mu.Lock()
	p.calls = append(p.calls, proofCall{endpoint: endpoint, req: req})
	submission, err, release := p.submission, p.err, p.release
	hold := release != nil && req.TaskID == p.holdTask.Hex()
	p.mu.Unlock()

	if hold {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return submission, err
}

func (p *fakeProver) requests() []proofCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]proofCall(nil), p.calls...)
}

type fakePublisher struct {
	results chan *models.ReconcileResult
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{results: make(chan *models.ReconcileResult, 32)}
}

func (p *fakePublisher) PublishOutcome(result *models.ReconcileResult) error {
	p.results <- result
	return nil
}

type slashCall struct {
	taskID           common.Hash
	publicInputsHash hashing.Digest
	proof            []byte
}

type fakeSlasher struct {
	mu    sync.Mutex
	calls []slashCall
}

func (s *fakeSlasher) Slash(_ context.Context, taskID common.Hash, publicInputsHash hashing.Digest, proof []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, slashCall{taskID: taskID, publicInputsHash: publicInputsHash, proof: proof})
	return nil
}

func (s *fakeSlasher) slashes() []slashCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slashCall(nil), s.calls...)
}

type fakeSubscription struct {
	errCh chan error
	once  sync.Once
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

// fakeLogBackend hands out one push subscription per event topic
type fakeLogBackend struct {
	mu   sync.Mutex
	subs map[common.Hash]chan<- types.Log
	errs map[common.Hash]*fakeSubscription
}

func newFakeLogBackend() *fakeLogBackend {
	return &fakeLogBackend{
		subs: make(map[common.Hash]chan<- types.Log),
		errs: make(map[common.Hash]*fakeSubscription),
	}
}

func (b *fakeLogBackend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic := q.Topics[0][0]
	sub := &fakeSubscription{errCh: make(chan error, 1)}
	b.subs[topic] = ch
	b.errs[topic] = sub
	return sub, nil
}

func (b *fakeLogBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *fakeLogBackend) BlockNumber(context.Context) (uint64, error) {
	return 0, nil
}

func (b *fakeLogBackend) subscribed(topic common.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[topic]
	return ok
}

func (b *fakeLogBackend) push(topic common.Hash, log types.Log) {
	b.mu.Lock()
	ch := b.subs[topic]
	b.mu.Unlock()
	ch <- log
}

func (b *fakeLogBackend) fail(topic common.Hash, err error) {
	b.mu.Lock()
	sub := b.errs[topic]
	b.mu.Unlock()
	sub.errCh <- err
}

var _ chain.LogBackend = (*fakeLogBackend)(nil)
