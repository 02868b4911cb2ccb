package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	factoryA = "0x00000000000000000000000000000000000000F1"
	factoryB = "0x00000000000000000000000000000000000000F2"
)

func TestLoadRunLayers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
rpc: ws://file:8546
store: pebble
pebble-dir: /tmp/x
token-factory:
  - "`+factoryA+`"
shutdown-grace: 5s
`), 0o644))

	t.Setenv("DAOSCOPE_DAO_FACTORY", factoryB)

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("metrics-addr", "", "")
	require.NoError(t, flags.Parse([]string{"--rpc", "ws://flag:8546"}))

	cfg, err := LoadRun(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "ws://flag:8546", cfg.Chain.RPCURL)
	assert.Equal(t, StorePebble, cfg.Store.Kind)
	assert.Equal(t, []string{factoryA}, cfg.Factories.TokenFactories)
	assert.Equal(t, []string{factoryB}, cfg.Factories.DaoFactories)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 256, cfg.BatchMax)
	require.NoError(t, cfg.Validate())
}

func TestLoadRunRejectsNumericListItem(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	// Unquoted, a small 0x address parses as an integer.
	require.NoError(t, os.WriteFile(file, []byte(`
rpc: ws://file:8546
token-factory:
  - `+factoryA+`
`), 0o644))

	_, err := LoadRun(file, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "token-factory[0]")
	assert.ErrorContains(t, err, "quote")
}

func TestRunValidate(t *testing.T) {
	cfg := RunConfig{
		Chain:         ChainConfig{RPCURL: "ws://x"},
		Store:         StoreConfig{Kind: StorePostgres},
		Factories:     Factories{TokenFactories: []string{factoryA}},
		ShutdownGrace: time.Second,
	}
	assert.ErrorContains(t, cfg.Validate(), "pg-dsn")

	cfg.Store.PGDSN = "postgres://x"
	require.NoError(t, cfg.Validate())

	cfg.Factories = Factories{}
	assert.Error(t, cfg.Validate())

	cfg.Factories = Factories{DaoFactories: []string{"0x12"}}
	assert.ErrorContains(t, cfg.Validate(), "invalid factory")

	cfg.Factories = Factories{DaoFactories: []string{factoryB}}
	cfg.Store.Kind = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), "unknown store")
}

func TestBackfillDefaults(t *testing.T) {
	cfg, err := LoadBackfill(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)

	t.Chdir(t.TempDir())
	cfg, err = LoadBackfill("", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), cfg.BatchSize)
	assert.True(t, cfg.CheckpointEnabled)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, StorePostgres, cfg.Store.Kind)
	assert.Equal(t, 20.0, cfg.Chain.TxLookupRPS)
}

func TestSplitAndClean(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndClean(" a, ,b "))
	assert.Nil(t, splitAndClean(""))
}
