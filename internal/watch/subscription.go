package watch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"daoscope/internal/ingest"
	"daoscope/internal/model"
)

// LogSource opens live log streams.
type LogSource interface {
	SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Handler applies one log. Implemented by ingest.Router.
type Handler interface {
	HandleLog(ctx context.Context, family model.InterfaceKind, lg types.Log) ingest.Result
	Topics(family model.InterfaceKind) []common.Hash
}

// State of a subscription.
type State int32

const (
	StateRunning State = iota + 1
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultBatchMax = 256
	logBuffer       = 1024
)

type SubscriptionOptions struct {
	// BatchMax caps how many queued logs are drained into one batch.
	BatchMax int
	// OnStateChange is called after every state transition.
	OnStateChange func()
}

// Subscription is one live log stream for a single watch target. Logs are handled strictly
// in delivery order on the subscription's own goroutine.
type Subscription struct {
	target  model.WatchTarget
	handler Handler
	opts    SubscriptionOptions
	logger  *zap.Logger

	sub    ethereum.Subscription
	logs   chan types.Log
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	once     sync.Once
	unsubErr error
}

// Subscribe opens the stream and starts delivering logs to handler. parent bounds the
// subscription's lifetime; Unsubscribe ends it earlier.
func Subscribe(parent context.Context, src LogSource, handler Handler, target model.WatchTarget, opts SubscriptionOptions, logger *zap.Logger) (*Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchMax <= 0 {
		opts.BatchMax = defaultBatchMax
	}

	query := ethereum.FilterQuery{Addresses: []common.Address{common.HexToAddress(target.ContractAddress)}}
	if !target.Kind.IsFactory() {
		query.Topics = [][]common.Hash{handler.Topics(target.Kind)}
	}

	ctx, cancel := context.WithCancel(parent)
	logs := make(chan types.Log, logBuffer)
	sub, err := src.SubscribeLogs(ctx, query, logs)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", target, err)
	}

	s := &Subscription{
		target:  target,
		handler: handler,
		opts:    opts,
		logger:  logger.With(zap.String("contract", target.ContractAddress), zap.String("family", target.Kind.String())),
		sub:     sub,
		logs:    logs,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.setState(StateRunning)
	go s.run(ctx)
	return s, nil
}

func (s *Subscription) Target() model.WatchTarget { return s.target }

func (s *Subscription) State() State { return State(s.state.Load()) }

func (s *Subscription) setState(st State) {
	s.state.Store(int32(st))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange()
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	// A log that has started is finished even if the subscription is being torn down.
	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-s.sub.Err():
			if !ok {
				return
			}
			s.logger.Error("log subscription dropped, not resubscribing", zap.Error(err))
			s.setState(StateFailed)
			return
		case lg := <-s.logs:
			batch := s.drain(lg)
			s.logger.Debug("log batch received", zap.Int("size", len(batch)))
			for _, l := range batch {
				s.handler.HandleLog(handleCtx, s.target.Kind, l)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (s *Subscription) drain(first types.Log) []types.Log {
	batch := []types.Log{first}
	for len(batch) < s.opts.BatchMax {
		select {
		case lg := <-s.logs:
			batch = append(batch, lg)
		default:
			return batch
		}
	}
	return batch
}

// Unsubscribe stops the stream and waits for the in-flight log to finish or ctx to expire.
// Only the first call does any work; later calls return its result.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.sub.Unsubscribe()
		select {
		case <-s.done:
		case <-ctx.Done():
			s.unsubErr = fmt.Errorf("unsubscribe %s: %w", s.target, ctx.Err())
		}
		if s.State() != StateFailed {
			s.setState(StateStopped)
		}
	})
	return s.unsubErr
}
