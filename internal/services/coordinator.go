package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"proofplus-coordinator/internal/chain"
	"proofplus-coordinator/internal/clients"
	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/executor"
	"proofplus-coordinator/internal/metrics"
	"proofplus-coordinator/internal/models"
	"proofplus-coordinator/internal/repository"
)

// EventSource opens the two TaskManager event streams
type EventSource interface {
	SubscribeTaskRequested(ctx context.Context, fromBlock *big.Int) (*chain.Stream[models.TaskRequested], error)
	SubscribeTaskFinalized(ctx context.Context, fromBlock *big.Int) (*chain.Stream[models.TaskFinalized], error)
}

// ListenerState liveness of one event listener
type ListenerState string

const (
	ListenerStarting ListenerState = "starting"
	ListenerRunning  ListenerState = "running"
	ListenerStopped  ListenerState = "stopped"
	ListenerFailed   ListenerState = "failed"
)

// ListenerStatus liveness report of one listener
type ListenerStatus struct {
	Event      string        `json:"event"`
	State      ListenerState `json:"state"`
	LastError  string        `json:"last_error,omitempty"`
	EventsSeen uint64        `json:"events_seen"`
	StartedAt  time.Time     `json:"started_at"`
}

// ProofTaskCoordinator runs the TaskRequested and TaskFinalized listeners.
// Every event is handled on its own goroutine so a slow handler never holds
// up the stream it came from.
type ProofTaskCoordinator struct {
	source     EventSource
	fromBlock  *big.Int
	self       common.Address
	dispatcher *TaskDispatcher
	reconciler *ResultReconciler
	retry      *FailedTransactionRetryService
	logger     *logrus.Logger

	mu        sync.RWMutex
	listeners map[string]*ListenerStatus

	handlers sync.WaitGroup
}

// NewProofTaskCoordinator retry may be nil
func NewProofTaskCoordinator(source EventSource, fromBlock *big.Int, self common.Address, dispatcher *TaskDispatcher, reconciler *ResultReconciler, retry *FailedTransactionRetryService, logger *logrus.Logger) *ProofTaskCoordinator {
	c := &ProofTaskCoordinator{
		source:     source,
		fromBlock:  fromBlock,
		self:       self,
		dispatcher: dispatcher,
		reconciler: reconciler,
		retry:      retry,
		logger:     logger,
		listeners:  make(map[string]*ListenerStatus),
	}
	for _, event := range []string{contract.EventTaskRequested, contract.EventTaskFinalized} {
		c.listeners[event] = &ListenerStatus{Event: event, State: ListenerStarting}
	}
	return c
}

// Run returns once every listener and the retry loop have stopped and every
// in-flight handler has returned. A listener whose stream fails stops on its
// own; the other keeps running until ctx is done.
// The returned error joins the listener failures.
func (c *ProofTaskCoordinator) Run(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"self":       c.self.Hex(),
		"from_block": c.fromBlock,
	}).Info("Starting proof task coordinator")

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	g.Go(func() error {
		collect(listen(ctx, c, contract.EventTaskRequested, c.source.SubscribeTaskRequested, c.handleTaskRequested))
		return nil
	})
	g.Go(func() error {
		collect(listen(ctx, c, contract.EventTaskFinalized, c.source.SubscribeTaskFinalized, c.handleTaskFinalized))
		return nil
	})
	if c.retry != nil {
		g.Go(func() error {
			collect(c.retry.Run(ctx))
			return nil
		})
	}

	_ = g.Wait()
	c.handlers.Wait()
	c.logger.Info("Proof task coordinator stopped")
	return errors.Join(errs...)
}

func (c *ProofTaskCoordinator) handleTaskRequested(ctx context.Context, event *models.TaskRequested) error {
	if event.Requester == c.self && event.Prover == c.self {
		c.reconciler.MarkRequested(event.TaskID)
	}
	_, err := c.dispatcher.OnTaskRequested(ctx, event)
	return err
}

func (c *ProofTaskCoordinator) handleTaskFinalized(ctx context.Context, event *models.TaskFinalized) error {
	_, err := c.reconciler.OnTaskFinalized(ctx, event)
	return err
}

// listen consumes one stream until ctx is done or the stream fails
func listen[T any](ctx context.Context, c *ProofTaskCoordinator, event string, open func(context.Context, *big.Int) (*chain.Stream[T], error), handle func(context.Context, *T) error) error {
	logger := c.logger.WithField("event", event)

	stream, err := open(ctx, c.fromBlock)
	if err != nil {
		c.setState(event, ListenerFailed, err)
		logger.WithError(err).Error("Failed to open event stream")
		return fmt.Errorf("%s listener: %w", event, err)
	}
	defer stream.Close()

	c.setState(event, ListenerRunning, nil)
	logger.Info("Event listener running")

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(event, ListenerStopped, nil)
				logger.Info("Event listener stopped")
				return nil
			}
			c.setState(event, ListenerFailed, err)
			logger.WithError(err).Error("Event stream failed, listener terminated")
			return fmt.Errorf("%s listener: %w", event, err)
		}

		metrics.EventsReceived.WithLabelValues(event).Inc()
		c.countEvent(event)

		c.handlers.Add(1)
		go func(ev T) {
			defer c.handlers.Done()
			start := time.Now()
			err := handle(ctx, &ev)
			metrics.EventProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.EventHandlerErrors.WithLabelValues(event, errorType(err)).Inc()
				logger.WithError(err).Error("Event handler failed")
			}
		}(ev)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, repository.ErrDuplicateFinalization):
		return "duplicate_finalization"
	case errors.Is(err, executor.ErrExecutionFailed):
		return "execution"
	case errors.Is(err, chain.ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, clients.ErrProverRejected):
		return "prover_rejected"
	case errors.Is(err, models.ErrMissingGroth16Receipt), errors.Is(err, models.ErrMissingReceipt),
		errors.Is(err, models.ErrMissingSP1Proof), errors.Is(err, models.ErrUnknownProverType):
		return "invalid_proof"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func (c *ProofTaskCoordinator) setState(event string, state ListenerState, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.listeners[event]
	status.State = state
	if state == ListenerRunning {
		status.StartedAt = time.Now()
		metrics.EventListenerStatus.WithLabelValues(event).Set(1)
	} else {
		metrics.EventListenerStatus.WithLabelValues(event).Set(0)
	}
	if cause != nil {
		status.LastError = cause.Error()
	}
}

func (c *ProofTaskCoordinator) countEvent(event string) {
	c.mu.Lock()
	c.listeners[event].EventsSeen++
	c.mu.Unlock()
}

// Listeners copies of the listener statuses, ordered by event name
func (c *ProofTaskCoordinator) Listeners() []ListenerStatus {
	c.mu.RLock()
	out := make([]ListenerStatus, 0, len(c.listeners))
	for _, status := range c.listeners {
		out = append(out, *status)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Healthy false once any listener has failed
func (c *ProofTaskCoordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, status := range c.listeners {
		if status.State == ListenerFailed {
			return false
		}
	}
	return true
}
