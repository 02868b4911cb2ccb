package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daoscope/internal/ingest"
	"daoscope/internal/model"
	"daoscope/internal/storage"
)

const (
	factoryAddr = "0x00000000000000000000000000000000000000F1"
	tokenAddr   = "0x00000000000000000000000000000000000000AA"
	daoAddr     = "0x00000000000000000000000000000000000000DD"
)

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

type fakeSource struct {
	mu      sync.Mutex
	queries []ethereum.FilterQuery
	chans   map[common.Address]chan<- types.Log
	subs    map[common.Address]*fakeSub
	fail    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chans: make(map[common.Address]chan<- types.Log),
		subs:  make(map[common.Address]*fakeSub),
	}
}

func (f *fakeSource) SubscribeLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.queries = append(f.queries, q)
	sub := &fakeSub{errc: make(chan error, 1)}
	f.chans[q.Addresses[0]] = ch
	f.subs[q.Addresses[0]] = sub
	return sub, nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeSource) send(t *testing.T, address string, lg types.Log) {
	t.Helper()
	f.mu.Lock()
	ch, ok := f.chans[common.HexToAddress(address)]
	f.mu.Unlock()
	require.True(t, ok)
	ch <- lg
}

func (f *fakeSource) breakStream(address string, err error) {
	f.mu.Lock()
	sub := f.subs[common.HexToAddress(address)]
	f.mu.Unlock()
	sub.errc <- err
}

type recordingHandler struct {
	mu      sync.Mutex
	seen    []uint
	block   chan struct{}
	handled chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{handled: make(chan struct{}, 64)}
}

func (h *recordingHandler) HandleLog(_ context.Context, _ model.InterfaceKind, lg types.Log) ingest.Result {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.seen = append(h.seen, lg.Index)
	h.mu.Unlock()
	h.handled <- struct{}{}
	return ingest.ResultApplied
}

func (h *recordingHandler) Topics(model.InterfaceKind) []common.Hash {
	return []common.Hash{common.HexToHash("0x01")}
}

type fakeLookup struct {
	tokens map[string]*model.TokenRecord
	daos   map[string]*model.DaoRecord
}

func (f *fakeLookup) GetToken(_ context.Context, address string) (*model.TokenRecord, error) {
	if rec, ok := f.tokens[address]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeLookup) GetDao(_ context.Context, address string) (*model.DaoRecord, error) {
	if rec, ok := f.daos[address]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeLookup) ListTokens(context.Context) ([]model.TokenRecord, error) {
	var out []model.TokenRecord
	for _, t := range f.tokens {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeLookup) ListDaos(context.Context) ([]model.DaoRecord, error) {
	var out []model.DaoRecord
	for _, d := range f.daos {
		out = append(out, *d)
	}
	return out, nil
}

func newTestRegistry(t *testing.T, src *fakeSource, h Handler, lookup *fakeLookup) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), Config{Source: src, Handler: h, Lookup: lookup})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func waitHandled(t *testing.T, h *recordingHandler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.handled:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for log %d", i)
		}
	}
}

func TestRegisterWatchIsIdempotent(t *testing.T) {
	src := newFakeSource()
	r := newTestRegistry(t, src, newRecordingHandler(), &fakeLookup{})
	ctx := context.Background()

	target := model.NewWatchTarget(tokenAddr, model.KindToken, "GOV")
	out, err := r.RegisterWatch(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, Started, out)

	// Same address in a different casing is the same watch.
	target.ContractAddress = "0x00000000000000000000000000000000000000aa"
	out, err = r.RegisterWatch(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, AlreadyWatching, out)

	assert.Equal(t, 1, src.count())
	assert.Len(t, r.Targets(), 1)
}

func TestConcurrentRegisterWatchSubscribesOnce(t *testing.T) {
	src := newFakeSource()
	r := newTestRegistry(t, src, newRecordingHandler(), &fakeLookup{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.RegisterWatch(context.Background(), model.NewWatchTarget(tokenAddr, model.KindToken, ""))
			if err == nil && out == Started {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, src.count())
}

func TestFactoryWatchHasNoTopicFilter(t *testing.T) {
	src := newFakeSource()
	r := newTestRegistry(t, src, newRecordingHandler(), &fakeLookup{})
	ctx := context.Background()

	_, err := r.RegisterWatch(ctx, model.NewWatchTarget(factoryAddr, model.KindTokenFactory, "factory"))
	require.NoError(t, err)
	_, err = r.RegisterWatch(ctx, model.NewWatchTarget(tokenAddr, model.KindToken, ""))
	require.NoError(t, err)

	require.Len(t, src.queries, 2)
	assert.Empty(t, src.queries[0].Topics)
	assert.Len(t, src.queries[1].Topics, 1)
}

func TestSubscribeFailureReleasesAddress(t *testing.T) {
	src := newFakeSource()
	src.fail = errors.New("dial refused")
	r := newTestRegistry(t, src, newRecordingHandler(), &fakeLookup{})
	target := model.NewWatchTarget(tokenAddr, model.KindToken, "")

	_, err := r.RegisterWatch(context.Background(), target)
	require.Error(t, err)
	assert.False(t, r.IsWatching(tokenAddr))

	src.fail = nil
	out, err := r.RegisterWatch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, Started, out)
}

func TestRegisterDiscovered(t *testing.T) {
	src := newFakeSource()
	lookup := &fakeLookup{
		tokens: map[string]*model.TokenRecord{
			model.NormalizeAddress(tokenAddr): {ContractAddress: model.NormalizeAddress(tokenAddr), Symbol: "GOV"},
		},
		daos: map[string]*model.DaoRecord{},
	}
	r := newTestRegistry(t, src, newRecordingHandler(), lookup)
	ctx := context.Background()

	assert.False(t, r.RegisterDiscoveredDao(ctx, daoAddr))
	assert.False(t, r.IsWatching(daoAddr))

	assert.True(t, r.RegisterDiscoveredToken(ctx, tokenAddr))
	assert.True(t, r.RegisterDiscoveredToken(ctx, tokenAddr))
	assert.Equal(t, 1, src.count())

	targets := r.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, model.KindToken, targets[0].Target.Kind)
	assert.Equal(t, "GOV", targets[0].Target.DisplayName)

	// Once the row shows up, a later event retries from scratch.
	lookup.daos[model.NormalizeAddress(daoAddr)] = &model.DaoRecord{Address: model.NormalizeAddress(daoAddr), Name: "Guild"}
	assert.True(t, r.RegisterDiscoveredDao(ctx, daoAddr))
	assert.True(t, r.IsWatching(daoAddr))
}

func TestLogsHandledInDeliveryOrder(t *testing.T) {
	src := newFakeSource()
	h := newRecordingHandler()
	r := newTestRegistry(t, src, h, &fakeLookup{})
	_, err := r.RegisterWatch(context.Background(), model.NewWatchTarget(tokenAddr, model.KindToken, ""))
	require.NoError(t, err)

	for i := uint(0); i < 10; i++ {
		src.send(t, tokenAddr, types.Log{Index: i})
	}
	waitHandled(t, h, 10)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []uint{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, h.seen)
}

func TestStreamErrorMarksFailedWithoutResubscribing(t *testing.T) {
	src := newFakeSource()
	r := newTestRegistry(t, src, newRecordingHandler(), &fakeLookup{})
	_, err := r.RegisterWatch(context.Background(), model.NewWatchTarget(tokenAddr, model.KindToken, ""))
	require.NoError(t, err)

	src.breakStream(tokenAddr, errors.New("connection reset"))
	require.Eventually(t, func() bool {
		ts := r.Targets()
		return len(ts) == 1 && ts[0].State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	out, err := r.RegisterWatch(context.Background(), model.NewWatchTarget(tokenAddr, model.KindToken, ""))
	require.NoError(t, err)
	assert.Equal(t, AlreadyWatching, out)
	assert.Equal(t, 1, src.count())
}

func TestSeedRegistersFactoriesAndCatalog(t *testing.T) {
	src := newFakeSource()
	lookup := &fakeLookup{
		tokens: map[string]*model.TokenRecord{"a": {ContractAddress: tokenAddr}},
		daos:   map[string]*model.DaoRecord{"d": {Address: daoAddr}},
	}
	r := newTestRegistry(t, src, newRecordingHandler(), lookup)

	err := r.Seed(context.Background(), []model.WatchTarget{
		model.NewWatchTarget(factoryAddr, model.KindTokenFactory, "token factory"),
	}, lookup)
	require.NoError(t, err)
	assert.Len(t, r.Targets(), 3)
}

func TestShutdownIsBestEffort(t *testing.T) {
	src := newFakeSource()
	h := newRecordingHandler()
	h.block = make(chan struct{})
	r, err := NewRegistry(context.Background(), Config{Source: src, Handler: h, Lookup: &fakeLookup{}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.RegisterWatch(ctx, model.NewWatchTarget(tokenAddr, model.KindToken, ""))
	require.NoError(t, err)
	_, err = r.RegisterWatch(ctx, model.NewWatchTarget(daoAddr, model.KindDao, ""))
	require.NoError(t, err)

	// The token subscription is stuck inside a handler.
	src.send(t, tokenAddr, types.Log{Index: 1})
	time.Sleep(50 * time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = r.Shutdown(sctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, ts := range r.Targets() {
		assert.Equal(t, StateStopped, ts.State, ts.Target.ContractAddress)
	}
	_, err = r.RegisterWatch(ctx, model.NewWatchTarget(factoryAddr, model.KindDaoFactory, ""))
	assert.ErrorIs(t, err, ErrClosed)

	close(h.block)
	// A second shutdown repeats the first result without blocking.
	assert.Error(t, r.Shutdown(ctx))
}
