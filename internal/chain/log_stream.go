package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/metrics"
	"proofplus-coordinator/internal/models"
)

var ErrStreamClosed = errors.New("log stream closed")

const defaultPollInterval = 2 * time.Second

// LogBackend is the part of ethclient.Client the subscriber needs
type LogBackend interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// Subscriber opens TaskManager event streams
type Subscriber struct {
	backend      LogBackend
	address      common.Address
	codec        *contract.TaskManager
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewSubscriber creates a subscriber for the TaskManager deployed at address.
// A zero pollInterval selects the default.
func NewSubscriber(backend LogBackend, address common.Address, codec *contract.TaskManager, pollInterval time.Duration, logger *logrus.Logger) *Subscriber {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Subscriber{
		backend:      backend,
		address:      address,
		codec:        codec,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// SubscribeTaskRequested streams TaskRequested events from fromBlock (nil = latest)
func (s *Subscriber) SubscribeTaskRequested(ctx context.Context, fromBlock *big.Int) (*Stream[models.TaskRequested], error) {
	src, err := s.open(ctx, contract.EventTaskRequested, fromBlock)
	if err != nil {
		return nil, err
	}
	return newStream(contract.EventTaskRequested, src, s.codec.DecodeTaskRequested, s.logger), nil
}

// SubscribeTaskFinalized streams TaskFinalized events from fromBlock (nil = latest)
func (s *Subscriber) SubscribeTaskFinalized(ctx context.Context, fromBlock *big.Int) (*Stream[models.TaskFinalized], error) {
	src, err := s.open(ctx, contract.EventTaskFinalized, fromBlock)
	if err != nil {
		return nil, err
	}
	return newStream(contract.EventTaskFinalized, src, s.codec.DecodeTaskFinalized, s.logger), nil
}

func (s *Subscriber) open(ctx context.Context, event string, fromBlock *big.Int) (logSource, error) {
	topic, err := s.codec.EventID(event)
	if err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{s.address},
		Topics:    [][]common.Hash{{topic}},
	}

	logs := make(chan types.Log, 64)
	sub, err := s.backend.SubscribeFilterLogs(ctx, query, logs)
	if err == nil {
		return &subscriptionSource{sub: sub, logs: logs}, nil
	}
	if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, fmt.Errorf("failed to subscribe to %s logs: %w", event, err)
	}

	s.logger.WithFields(logrus.Fields{
		"event":         event,
		"poll_interval": s.pollInterval,
	}).Info("RPC endpoint has no push subscriptions, polling for logs")

	src := &pollingSource{
		backend:  s.backend,
		query:    query,
		interval: s.pollInterval,
		done:     make(chan struct{}),
	}
	if fromBlock != nil {
		src.cursor = fromBlock.Uint64()
		src.started = true
	}
	return src, nil
}

type logSource interface {
	next(ctx context.Context) (types.Log, error)
	close()
}

// Stream is a blocking, in-order sequence of decoded events.
// Undecodable logs are skipped; a transport failure ends the stream for good.
type Stream[T any] struct {
	event  string
	src    logSource
	decode func(types.Log) (T, error)
	logger *logrus.Logger

	mu  sync.Mutex
	err error
}

func newStream[T any](event string, src logSource, decode func(types.Log) (T, error), logger *logrus.Logger) *Stream[T] {
	return &Stream[T]{event: event, src: src, decode: decode, logger: logger}
}

// Next blocks until the next decodable event, a transport error, or ctx is done
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if err := s.failed(); err != nil {
			return zero, err
		}

		log, err := s.src.next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(err)
			}
			return zero, err
		}

		ev, err := s.decode(log)
		if err != nil {
			metrics.EventHandlerErrors.WithLabelValues(s.event, "decode").Inc()
			s.logger.WithFields(logrus.Fields{
				"event":     s.event,
				"block":     log.BlockNumber,
				"tx_hash":   log.TxHash.Hex(),
				"log_index": log.Index,
			}).WithError(err).Warn("Skipping undecodable log")
			continue
		}
		return ev, nil
	}
}

// Close releases the subscription. Further Next calls return ErrStreamClosed.
func (s *Stream[T]) Close() {
	s.fail(ErrStreamClosed)
	s.src.close()
}

func (s *Stream[T]) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream[T]) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

type subscriptionSource struct {
	sub  ethereum.Subscription
	logs chan types.Log
	once sync.Once
}

func (s *subscriptionSource) next(ctx context.Context) (types.Log, error) {
	select {
	case <-ctx.Done():
		return types.Log{}, ctx.Err()
	case err, ok := <-s.sub.Err():
		if !ok || err == nil {
			return types.Log{}, ErrStreamClosed
		}
		return types.Log{}, fmt.Errorf("log subscription dropped: %w", err)
	case log := <-s.logs:
		return log, nil
	}
}

func (s *subscriptionSource) close() {
	s.once.Do(s.sub.Unsubscribe)
}

// pollingSource emulates a subscription with eth_getLogs over new block ranges
type pollingSource struct {
	backend  LogBackend
	query    ethereum.FilterQuery
	interval time.Duration

	cursor  uint64
	started bool
	pending []types.Log

	done chan struct{}
	once sync.Once
}

func (p *pollingSource) next(ctx context.Context) (types.Log, error) {
	for len(p.pending) == 0 {
		select {
		case <-p.done:
			return types.Log{}, ErrStreamClosed
		default:
		}

		head, err := p.backend.BlockNumber(ctx)
		if err != nil {
			return types.Log{}, fmt.Errorf("failed to read block number: %w", err)
		}
		if !p.started {
			p.cursor = head
			p.started = true
		}

		if head >= p.cursor {
			q := p.query
			q.FromBlock = new(big.Int).SetUint64(p.cursor)
			q.ToBlock = new(big.Int).SetUint64(head)
			logs, err := p.backend.FilterLogs(ctx, q)
			if err != nil {
				return types.Log{}, fmt.Errorf("failed to filter logs %d..%d: %w", p.cursor, head, err)
			}
			p.pending = logs
			p.cursor = head + 1
			if len(p.pending) > 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return types.Log{}, ctx.Err()
		case <-p.done:
			return types.Log{}, ErrStreamClosed
		case <-time.After(p.interval):
		}
	}

	log := p.pending[0]
	p.pending = p.pending[1:]
	return log, nil
}

func (p *pollingSource) close() {
	p.once.Do(func() { close(p.done) })
}
