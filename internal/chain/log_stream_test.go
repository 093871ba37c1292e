package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/models"
)

var contractAddress = common.HexToAddress("0x00000000000000000000000000000000000000c0")

type fakeSubscription struct {
	errCh chan error
	once  sync.Once
	done  bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.done = true
		close(s.errCh)
	})
}

type fakeLogBackend struct {
	mu           sync.Mutex
	subscribeErr error
	sub          *fakeSubscription
	sink         chan<- types.Log
	head         uint64
	logs         []types.Log
	queries      []ethereum.FilterQuery
}

func (b *fakeLogBackend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.sub = newFakeSubscription()
	b.sink = ch
	return b.sub, nil
}

func (b *fakeLogBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	var out []types.Log
	for _, l := range b.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (b *fakeLogBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeLogBackend) setHead(h uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = h
}

func requestedLog(t *testing.T, id string, block uint64) types.Log {
	t.Helper()
	log, err := contract.MustTaskManager().EncodeTaskRequestedLog(models.TaskRequested{
		TaskID:      common.HexToHash(id),
		Requester:   common.HexToAddress("0x01"),
		Prover:      common.HexToAddress("0x02"),
		Endpoint:    "http://x",
		LogPosition: models.LogPosition{BlockNumber: block},
	})
	require.NoError(t, err)
	return log
}

func newTestSubscriber(backend LogBackend) (*Subscriber, *logrustest.Hook) {
	logger, hook := logrustest.NewNullLogger()
	return NewSubscriber(backend, contractAddress, contract.MustTaskManager(), 10*time.Millisecond, logger), hook
}

func TestStreamSkipsUndecodableLogs(t *testing.T) {
	backend := &fakeLogBackend{}
	sub, hook := newTestSubscriber(backend)
	ctx := context.Background()

	stream, err := sub.SubscribeTaskRequested(ctx, big.NewInt(1))
	require.NoError(t, err)
	defer stream.Close()

	require.Len(t, backend.queries, 1)
	assert.Equal(t, []common.Address{contractAddress}, backend.queries[0].Addresses)
	assert.Equal(t, big.NewInt(1), backend.queries[0].FromBlock)

	garbage := requestedLog(t, "0x02", 2)
	garbage.Data = []byte{0x01}

	backend.sink <- requestedLog(t, "0x01", 1)
	backend.sink <- garbage
	backend.sink <- requestedLog(t, "0x03", 3)

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), first.TaskID)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x03"), second.TaskID)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestStreamTerminatesOnTransportError(t *testing.T) {
	backend := &fakeLogBackend{}
	sub, _ := newTestSubscriber(backend)
	ctx := context.Background()

	stream, err := sub.SubscribeTaskFinalized(ctx, nil)
	require.NoError(t, err)
	defer stream.Close()

	backend.sub.errCh <- errors.New("connection reset")

	_, err = stream.Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	// later logs are never surfaced once the transport failed
	backend.sink <- requestedLog(t, "0x01", 1)
	_, again := stream.Next(ctx)
	assert.Equal(t, err, again)
}

func TestStreamCloseUnsubscribes(t *testing.T) {
	backend := &fakeLogBackend{}
	sub, _ := newTestSubscriber(backend)

	stream, err := sub.SubscribeTaskRequested(context.Background(), nil)
	require.NoError(t, err)

	stream.Close()
	assert.True(t, backend.sub.done)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamCancelledContextDoesNotKillStream(t *testing.T) {
	backend := &fakeLogBackend{}
	sub, _ := newTestSubscriber(backend)

	stream, err := sub.SubscribeTaskRequested(context.Background(), nil)
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	backend.sink <- requestedLog(t, "0x05", 5)
	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x05"), ev.TaskID)
}

func TestStreamFallsBackToPolling(t *testing.T) {
	backend := &fakeLogBackend{
		subscribeErr: rpc.ErrNotificationsUnsupported,
		head:         10,
		logs: []types.Log{
			requestedLog(t, "0x04", 4),
			requestedLog(t, "0x05", 5),
			requestedLog(t, "0x09", 9),
			requestedLog(t, "0x0b", 11),
		},
	}
	sub, _ := newTestSubscriber(backend)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := sub.SubscribeTaskRequested(ctx, big.NewInt(5))
	require.NoError(t, err)
	defer stream.Close()

	var seen []uint64
	for i := 0; i < 2; i++ {
		ev, err := stream.Next(ctx)
		require.NoError(t, err)
		seen = append(seen, ev.BlockNumber)
	}
	assert.Equal(t, []uint64{5, 9}, seen)

	backend.setHead(12)
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), ev.BlockNumber)
}

func TestSubscribeSurfacesOtherErrors(t *testing.T) {
	backend := &fakeLogBackend{subscribeErr: errors.New("dial tcp: refused")}
	sub, _ := newTestSubscriber(backend)

	_, err := sub.SubscribeTaskFinalized(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
