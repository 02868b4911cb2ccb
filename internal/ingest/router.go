// Package ingest routes decoded logs to per-family handlers and applies each log as one
// atomic unit of work: processed-log marker, transaction record, entity record and ledger writes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"daoscope/internal/contracts"
	"daoscope/internal/ledger"
	"daoscope/internal/metrics"
	"daoscope/internal/model"
	"daoscope/internal/notify"
	"daoscope/internal/storage"
	"daoscope/internal/validate"
)

// ChainReader is the side-channel lookup for the transaction behind a log.
type ChainReader interface {
	TransactionDetails(ctx context.Context, hash common.Hash) (model.TxDetails, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Discoverer is told about child contracts announced by factory events.
type Discoverer interface {
	RegisterDiscoveredToken(ctx context.Context, address string) bool
	RegisterDiscoveredDao(ctx context.Context, address string) bool
}

// Notifier receives every applied event after commit.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Result is what happened to one routed log.
type Result int

const (
	ResultApplied Result = iota + 1
	ResultDuplicate
	ResultUnrecognized
	ResultInvalid
	ResultUnavailable
	ResultRemoved
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDuplicate:
		return "duplicate"
	case ResultUnrecognized:
		return "unrecognized"
	case ResultInvalid:
		return "invalid"
	case ResultUnavailable:
		return "unavailable"
	case ResultRemoved:
		return "removed"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Deps struct {
	Store     storage.Store
	Chain     ChainReader
	Decoder   *contracts.Decoder
	Ledger    *ledger.Ledger
	Validator *validate.Validator
	Persister *storage.Persister
	Notifier  Notifier
	Logger    *zap.Logger
}

type Router struct {
	store      storage.Store
	chain      ChainReader
	decoder    *contracts.Decoder
	ledger     *ledger.Ledger
	validator  *validate.Validator
	persister  *storage.Persister
	notifier   Notifier
	discoverer Discoverer
	logger     *zap.Logger
}

func NewRouter(deps Deps) (*Router, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		store:     deps.Store,
		chain:     deps.Chain,
		decoder:   deps.Decoder,
		ledger:    deps.Ledger,
		validator: deps.Validator,
		persister: deps.Persister,
		notifier:  deps.Notifier,
		logger:    logger,
	}
	if r.decoder == nil {
		dec, err := contracts.NewDecoder()
		if err != nil {
			return nil, err
		}
		r.decoder = dec
	}
	if r.ledger == nil {
		r.ledger = ledger.New(ledger.Options{}, logger)
	}
	if r.validator == nil {
		r.validator = validate.New(logger)
	}
	if r.persister == nil {
		r.persister = storage.NewPersister(logger)
	}
	return r, nil
}

// UseDiscoverer sets the callback target for factory events. It must be called before
// any log is routed.
func (r *Router) UseDiscoverer(d Discoverer) {
	r.discoverer = d
}

// Topics returns the subscription topic filter of a family.
func (r *Router) Topics(family model.InterfaceKind) []common.Hash {
	return r.decoder.Topics(family)
}

// HandleLog decodes lg with the family ABI and routes it.
func (r *Router) HandleLog(ctx context.Context, family model.InterfaceKind, lg types.Log) Result {
	ev, err := r.decoder.Decode(family, lg)
	if err != nil {
		r.logger.Warn("log decode failed",
			zap.String("family", family.String()),
			zap.String("contract", ev.ContractAddress),
			zap.String("tx_hash", ev.TransactionHash),
			zap.Uint64("log_index", ev.LogIndex),
			zap.Error(err),
		)
		metrics.EventsTotal.WithLabelValues(family.String(), "undecodable", ResultInvalid.String()).Inc()
		return ResultInvalid
	}
	return r.Route(ctx, family, ev)
}

// Route applies one event. It never panics and never returns an error: every failure is
// logged with enough context to find the log again.
func (r *Router) Route(ctx context.Context, family model.InterfaceKind, ev model.RawEvent) (res Result) {
	start := time.Now()
	kind := ParseEventKind(family, ev.EventName)
	log := r.logger.With(
		zap.String("family", family.String()),
		zap.String("contract", ev.ContractAddress),
		zap.String("event", ev.EventName),
		zap.String("tx_hash", ev.TransactionHash),
		zap.Uint64("log_index", ev.LogIndex),
		zap.Uint64("block_number", ev.BlockNumber),
	)
	defer func() {
		if p := recover(); p != nil {
			log.Error("event handler panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = ResultFailed
		}
		metrics.EventsTotal.WithLabelValues(family.String(), kind.String(), res.String()).Inc()
		metrics.EventDuration.WithLabelValues(family.String()).Observe(time.Since(start).Seconds())
	}()

	if ev.Removed {
		log.Warn("removed log dropped")
		return ResultRemoved
	}
	if kind == EventUnrecognized {
		log.Info("unrecognized event dropped")
		return ResultUnrecognized
	}

	args := r.validator.Validate(ev, kind.schema())
	if args == nil {
		return ResultInvalid
	}

	in, err := r.enrich(ctx, family, kind, ev, args)
	if err != nil {
		log.Warn("transaction details unavailable, event dropped", zap.Error(err))
		return ResultUnavailable
	}

	duplicate := false
	err = r.store.WithTx(ctx, func(tx storage.Tx) error {
		out, err := r.persister.InsertIfAbsent(ctx, tx, &model.ProcessedLog{
			TransactionHash: ev.TransactionHash,
			LogIndex:        ev.LogIndex,
			BlockNumber:     ev.BlockNumber,
		})
		if err != nil {
			return err
		}
		if out == storage.Skipped {
			duplicate = true
			return nil
		}
		return r.apply(ctx, tx, in)
	})
	if err != nil {
		log.Error("event processing failed, unit rolled back", zap.Error(err))
		return ResultFailed
	}

	r.discover(ctx, in)
	if duplicate {
		log.Debug("duplicate log skipped")
		return ResultDuplicate
	}
	r.publish(ctx, log, in)
	return ResultApplied
}

// input is everything a handler needs for one log.
type input struct {
	family     model.InterfaceKind
	kind       EventKind
	event      model.RawEvent
	args       *validate.Args
	tx         model.TxDetails
	parsedType string
}

func (r *Router) enrich(ctx context.Context, family model.InterfaceKind, kind EventKind, ev model.RawEvent, args *validate.Args) (*input, error) {
	details, err := r.chain.TransactionDetails(ctx, common.HexToHash(ev.TransactionHash))
	if err != nil {
		return nil, fmt.Errorf("transaction details: %w", err)
	}
	if ev.BlockTimestamp == 0 {
		ts, err := r.chain.BlockTimestamp(ctx, ev.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block timestamp: %w", err)
		}
		ev.BlockTimestamp = ts
	}
	return &input{
		family:     family,
		kind:       kind,
		event:      ev,
		args:       args,
		tx:         details,
		parsedType: kind.String(),
	}, nil
}

func (r *Router) discover(ctx context.Context, in *input) {
	if r.discoverer == nil {
		return
	}
	switch in.kind {
	case EventTokenCreated:
		r.discoverer.RegisterDiscoveredToken(ctx, in.args.Address("token"))
	case EventDaoCreated:
		r.discoverer.RegisterDiscoveredDao(ctx, in.args.Address("dao"))
	}
}

func (r *Router) publish(ctx context.Context, log *zap.Logger, in *input) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Publish(ctx, notify.Event{
		Family:      in.family.String(),
		Event:       in.event.EventName,
		ParsedType:  in.parsedType,
		Contract:    in.event.ContractAddress,
		TxHash:      in.event.TransactionHash,
		LogIndex:    in.event.LogIndex,
		BlockNumber: in.event.BlockNumber,
		Timestamp:   in.event.BlockTimestamp,
		Args:        in.args.Strings(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("event publish failed", zap.Error(err))
	}
}
