package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DAOSCOPE"

// Store backends.
const (
	StorePostgres = "postgres"
	StorePebble   = "pebble"
)

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	Kind         string
	PGDSN        string
	PebbleDir    string
	EnsureSchema bool
}

func (c StoreConfig) Validate() error {
	switch c.Kind {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case StorePebble:
		if c.PebbleDir == "" {
			return fmt.Errorf("pebble-dir is required for the pebble store")
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Kind, StorePostgres, StorePebble)
	}
	return nil
}

// ChainConfig configures the RPC connection.
type ChainConfig struct {
	RPCURL        string
	TxLookupRPS   float64
	TxLookupBurst int
}

// Factories lists the static factory contracts.
type Factories struct {
	TokenFactories []string
	DaoFactories   []string
}

func (f Factories) Validate() error {
	if len(f.TokenFactories) == 0 && len(f.DaoFactories) == 0 {
		return fmt.Errorf("at least one token-factory or dao-factory address is required")
	}
	for _, a := range append(append([]string(nil), f.TokenFactories...), f.DaoFactories...) {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid factory address: %s", a)
		}
	}
	return nil
}

// RunConfig holds configuration for the live watcher service.
type RunConfig struct {
	Chain         ChainConfig
	Store         StoreConfig
	Factories     Factories
	LogLevel      string
	ShutdownGrace time.Duration
	MetricsAddr   string
	BatchMax      int
	NATSURL       string
	NATSSubject   string
}

func (c RunConfig) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown-grace must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Factories.Validate()
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("shutdown-grace", 15*time.Second)
		v.SetDefault("metrics-addr", ":9102")
		v.SetDefault("batch-max", 256)
		v.SetDefault("nats-subject", "daoscope.events")
	})
	if err != nil {
		return RunConfig{}, err
	}

	fs, err := factories(v)
	if err != nil {
		return RunConfig{}, err
	}

	cfg := RunConfig{
		Chain:         chainConfig(v),
		Store:         storeConfig(v),
		Factories:     fs,
		LogLevel:      v.GetString("log-level"),
		ShutdownGrace: v.GetDuration("shutdown-grace"),
		MetricsAddr:   v.GetString("metrics-addr"),
		BatchMax:      v.GetInt("batch-max"),
		NATSURL:       v.GetString("nats-url"),
		NATSSubject:   v.GetString("nats-subject"),
	}
	return cfg, nil
}

// BackfillConfig holds configuration for the historical replay.
type BackfillConfig struct {
	Chain             ChainConfig
	Store             StoreConfig
	Factories         Factories
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

func (c BackfillConfig) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.ToBlock != 0 && c.ToBlock < c.FromBlock {
		return fmt.Errorf("to must be >= from")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Factories.Validate()
}

// LoadBackfill merges config file, environment variables, and flags into BackfillConfig.
func LoadBackfill(cfgFile string, flags *pflag.FlagSet) (BackfillConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("checkpoint", "./data/backfill.json")
		v.SetDefault("checkpoint-enabled", true)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
	})
	if err != nil {
		return BackfillConfig{}, err
	}

	fs, err := factories(v)
	if err != nil {
		return BackfillConfig{}, err
	}

	cfg := BackfillConfig{
		Chain:             chainConfig(v),
		Store:             storeConfig(v),
		Factories:         fs,
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}
	return cfg, nil
}

// SchemaConfig holds configuration for the schema bootstrap command.
type SchemaConfig struct {
	PGDSN    string
	LogLevel string
}

func LoadSchema(cfgFile string, flags *pflag.FlagSet) (SchemaConfig, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return SchemaConfig{}, err
	}
	cfg := SchemaConfig{
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.PGDSN == "" {
		return cfg, fmt.Errorf("pg-dsn is required")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("pebble-dir", "./data/pebble")
	v.SetDefault("tx-lookup-rps", 20.0)
	v.SetDefault("tx-lookup-burst", 5)
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func chainConfig(v *viper.Viper) ChainConfig {
	return ChainConfig{
		RPCURL:        v.GetString("rpc"),
		TxLookupRPS:   v.GetFloat64("tx-lookup-rps"),
		TxLookupBurst: v.GetInt("tx-lookup-burst"),
	}
}

func storeConfig(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Kind:         strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		PGDSN:        v.GetString("pg-dsn"),
		PebbleDir:    v.GetString("pebble-dir"),
		EnsureSchema: v.GetBool("ensure-schema"),
	}
}

func factories(v *viper.Viper) (Factories, error) {
	tokens, err := getStringSlice(v, "token-factory")
	if err != nil {
		return Factories{}, err
	}
	daos, err := getStringSlice(v, "dao-factory")
	if err != nil {
		return Factories{}, err
	}
	return Factories{TokenFactories: tokens, DaoFactories: daos}, nil
}

// getStringSlice reads a list given as a slice or a comma-separated string. List items that
// the config parser typed as something other than a string are rejected: YAML reads an
// unquoted 0x address whose value fits in an int as a number.
func getStringSlice(v *viper.Viper, key string) ([]string, error) {
	if !v.IsSet(key) {
		return nil, nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed), nil
	case string:
		return splitAndClean(typed), nil
	case []interface{}:
		items := make([]string, 0, len(typed))
		for i, item := range typed {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected a string, got %T %v (quote the value)", key, i, item, item)
			}
			items = append(items, s)
		}
		return cleanStrings(items), nil
	default:
		return nil, fmt.Errorf("%s: expected a list or comma-separated string, got %T", key, val)
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
