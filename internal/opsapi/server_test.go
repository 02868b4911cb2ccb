package opsapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daoscope/internal/ledger"
	"daoscope/internal/model"
	"daoscope/internal/storage"
	pebblestore "daoscope/internal/storage/pebble"
	"daoscope/internal/watch"
)

const tokenAddr = "0x00000000000000000000000000000000000000aa"

type staticWatches []watch.TargetStatus

func (s staticWatches) Targets() []watch.TargetStatus { return s }

func newTestRouter(t *testing.T) (http.Handler, storage.Store) {
	t.Helper()
	store, err := pebblestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	watches := staticWatches{
		{Target: model.NewWatchTarget(tokenAddr, model.KindToken, "GOV"), State: watch.StateRunning},
		{Target: model.NewWatchTarget("0x00000000000000000000000000000000000000f1", model.KindTokenFactory, ""), State: watch.StateFailed},
	}
	return NewRouter(watches, store, nil), store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)

	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWatches(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := get(t, h, "/watches")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Watches []watchView `json:"watches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Watches, 2)
	assert.Equal(t, "token", body.Watches[0].Kind)
	assert.Equal(t, "running", body.Watches[0].State)
	assert.Equal(t, "failed", body.Watches[1].State)
}

func TestConservation(t *testing.T) {
	h, store := newTestRouter(t)
	ctx := context.Background()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/tokens/nope/conservation").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/tokens/"+tokenAddr+"/conservation").Code)

	l := ledger.New(ledger.Options{}, nil)
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.InsertToken(ctx, &model.TokenRecord{ContractAddress: tokenAddr, TotalSupply: "10"}); err != nil {
			return err
		}
		_, err := l.AdjustBalance(ctx, tx, tokenAddr, "0x0000000000000000000000000000000000000001", big.NewInt(10), true, ledger.Stamp{})
		return err
	}))

	rec := get(t, h, "/tokens/"+tokenAddr+"/conservation")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["balanced"])
	assert.Equal(t, "10", body["supply"])
}
