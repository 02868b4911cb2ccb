// Package watch owns the live set of contract subscriptions and grows it as factories
// announce new tokens and DAOs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"daoscope/internal/metrics"
	"daoscope/internal/model"
	"daoscope/internal/storage"
)

// ErrClosed is returned by RegisterWatch after Shutdown.
var ErrClosed = errors.New("registry shut down")

// Registration is the outcome of RegisterWatch.
type Registration int

const (
	Started Registration = iota + 1
	AlreadyWatching
)

func (r Registration) String() string {
	switch r {
	case Started:
		return "started"
	case AlreadyWatching:
		return "already_watching"
	default:
		return "unknown"
	}
}

// Lookup is the read access the registry needs to resolve discovered contracts.
type Lookup interface {
	GetToken(ctx context.Context, address string) (*model.TokenRecord, error)
	GetDao(ctx context.Context, address string) (*model.DaoRecord, error)
}

// Catalog lists contracts already known at startup.
type Catalog interface {
	ListTokens(ctx context.Context) ([]model.TokenRecord, error)
	ListDaos(ctx context.Context) ([]model.DaoRecord, error)
}

type Config struct {
	Source       LogSource
	Handler      Handler
	Lookup       Lookup
	Subscription SubscriptionOptions
	// SeedConcurrency bounds parallel subscribes during Seed.
	SeedConcurrency int
	Logger          *zap.Logger
}

// TargetStatus is one tracked target and its subscription state.
type TargetStatus struct {
	Target model.WatchTarget
	State  State
}

// Registry tracks at most one subscription per contract address. One registry is built
// per process and passed to whatever needs to add watches.
type Registry struct {
	base   context.Context
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewRegistry builds a registry whose subscriptions live until Shutdown or until base is done.
func NewRegistry(base context.Context, cfg Config) (*Registry, error) {
	if cfg.Source == nil || cfg.Handler == nil || cfg.Lookup == nil {
		return nil, fmt.Errorf("source, handler and lookup are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SeedConcurrency <= 0 {
		cfg.SeedConcurrency = 8
	}
	r := &Registry{
		base:   base,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
	userHook := cfg.Subscription.OnStateChange
	r.cfg.Subscription.OnStateChange = func() {
		r.refreshGauge()
		if userHook != nil {
			userHook()
		}
	}
	return r, nil
}

// RegisterWatch opens a subscription for target unless its address is already tracked.
func (r *Registry) RegisterWatch(ctx context.Context, target model.WatchTarget) (Registration, error) {
	target.ContractAddress = model.NormalizeAddress(target.ContractAddress)
	log := r.logger.With(zap.String("contract", target.ContractAddress), zap.String("family", target.Kind.String()))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if _, ok := r.subs[target.ContractAddress]; ok {
		r.mu.Unlock()
		log.Info("already watching")
		return AlreadyWatching, nil
	}
	// Reserve the address while subscribing so concurrent callers see it as taken.
	r.subs[target.ContractAddress] = nil
	r.mu.Unlock()

	sub, err := Subscribe(r.base, r.cfg.Source, r.cfg.Handler, target, r.cfg.Subscription, r.logger)

	r.mu.Lock()
	if err != nil {
		delete(r.subs, target.ContractAddress)
		r.mu.Unlock()
		log.Error("watch subscribe failed", zap.Error(err))
		return 0, err
	}
	if r.closed {
		r.mu.Unlock()
		if uerr := sub.Unsubscribe(ctx); uerr != nil {
			log.Warn("unsubscribe after shutdown failed", zap.Error(uerr))
		}
		return 0, ErrClosed
	}
	r.subs[target.ContractAddress] = sub
	r.mu.Unlock()

	r.refreshGauge()
	log.Info("watch started", zap.String("name", target.DisplayName))
	return Started, nil
}

// RegisterDiscoveredToken watches a token the factory just created. It returns false when
// the token row is not visible yet; a later event for the same address retries.
func (r *Registry) RegisterDiscoveredToken(ctx context.Context, address string) bool {
	address = model.NormalizeAddress(address)
	rec, err := r.cfg.Lookup.GetToken(ctx, address)
	if err != nil {
		r.logLookupFailure(address, model.KindToken, err)
		return false
	}
	return r.registerDiscovered(ctx, model.NewWatchTarget(rec.ContractAddress, model.KindToken, rec.Symbol))
}

// RegisterDiscoveredDao is RegisterDiscoveredToken for DAOs.
func (r *Registry) RegisterDiscoveredDao(ctx context.Context, address string) bool {
	address = model.NormalizeAddress(address)
	rec, err := r.cfg.Lookup.GetDao(ctx, address)
	if err != nil {
		r.logLookupFailure(address, model.KindDao, err)
		return false
	}
	return r.registerDiscovered(ctx, model.NewWatchTarget(rec.Address, model.KindDao, rec.Name))
}

func (r *Registry) registerDiscovered(ctx context.Context, target model.WatchTarget) bool {
	if _, err := r.RegisterWatch(ctx, target); err != nil {
		return false
	}
	return true
}

func (r *Registry) logLookupFailure(address string, kind model.InterfaceKind, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("discovered contract not in store yet, registration abandoned",
			zap.String("contract", address), zap.String("family", kind.String()))
		return
	}
	r.logger.Error("discovered contract lookup failed",
		zap.String("contract", address), zap.String("family", kind.String()), zap.Error(err))
}

// Seed registers the static factory watches plus every token and DAO already in the catalog.
func (r *Registry) Seed(ctx context.Context, factories []model.WatchTarget, catalog Catalog) error {
	targets := append([]model.WatchTarget(nil), factories...)

	tokens, err := catalog.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	for _, t := range tokens {
		targets = append(targets, model.NewWatchTarget(t.ContractAddress, model.KindToken, t.Symbol))
	}
	daos, err := catalog.ListDaos(ctx)
	if err != nil {
		return fmt.Errorf("list daos: %w", err)
	}
	for _, d := range daos {
		targets = append(targets, model.NewWatchTarget(d.Address, model.KindDao, d.Name))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.SeedConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			_, err := r.RegisterWatch(gctx, target)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("registry seeded",
		zap.Int("factories", len(factories)),
		zap.Int("tokens", len(tokens)),
		zap.Int("daos", len(daos)),
	)
	return nil
}

// Shutdown unsubscribes every tracked target. Every target is attempted; the returned error
// joins the individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s != nil {
			subs = append(subs, s)
		}
	}
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, s := range subs {
		g.Go(func() error {
			if err := s.Unsubscribe(ctx); err != nil {
				r.logger.Error("unsubscribe failed", zap.String("contract", s.Target().ContractAddress), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("registry shut down", zap.Int("targets", len(subs)), zap.Int("failures", len(errs)))
	return errors.Join(errs...)
}

// Targets returns every tracked target sorted by address.
func (r *Registry) Targets() []TargetStatus {
	r.mu.Lock()
	out := make([]TargetStatus, 0, len(r.subs))
	for _, s := range r.subs {
		if s != nil {
			out = append(out, TargetStatus{Target: s.Target(), State: s.State()})
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Target.ContractAddress < out[j].Target.ContractAddress
	})
	return out
}

// IsWatching reports whether address is tracked.
func (r *Registry) IsWatching(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[model.NormalizeAddress(address)]
	return ok
}

func (r *Registry) refreshGauge() {
	counts := map[State]int{StateRunning: 0, StateFailed: 0, StateStopped: 0}
	for _, t := range r.Targets() {
		counts[t.State]++
	}
	for st, n := range counts {
		metrics.Watches.WithLabelValues(st.String()).Set(float64(n))
	}
}
