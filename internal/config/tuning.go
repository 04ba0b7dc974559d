package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TuningConfig carries the operational knobs that must be adjustable without
// a redeploy: reconciliation cadence and ingest rate limits.
type TuningConfig struct {
	Reconcile ReconcileTuning `mapstructure:"reconcile"`
	Ingest    IngestTuning    `mapstructure:"ingest"`
}

type ReconcileTuning struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batchSize"`
	JobTimeout time.Duration `mapstructure:"jobTimeout"`
}

type IngestTuning struct {
	MachinePerMinute int `mapstructure:"machinePerMinute"`
	Burst            int `mapstructure:"burst"`
}

func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		Reconcile: ReconcileTuning{
			Enabled:    true,
			Interval:   5 * time.Minute,
			BatchSize:  100,
			JobTimeout: 2 * time.Minute,
		},
		Ingest: IngestTuning{
			MachinePerMinute: 600,
			Burst:            120,
		},
	}
}

type TuningHolder struct {
	current atomic.Value // holds TuningConfig
}

func NewTuningHolder() (*TuningHolder, error) {
	v := viper.New()

	v.SetConfigName("toolledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/toolledger/config") // Volume-mounted config
	v.AddConfigPath("/etc/toolledger")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("TOOLLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultTuningConfig()
		v.SetDefault("tuning.reconcile", defaults.Reconcile)
		v.SetDefault("tuning.ingest", defaults.Ingest)
	}

	cfg, err := unmarshalTuning(v)
	if err != nil {
		return nil, err
	}
	if err := validateTuningConfig(cfg); err != nil {
		return nil, err
	}

	holder := &TuningHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalTuning(v)
		if err != nil {
			log.Printf("[tuning-config] reload failed: %v", err)
			return
		}
		if err := validateTuningConfig(updated); err != nil {
			log.Printf("[tuning-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tuning-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticTuningHolder wraps a fixed config with no file watching. Used by
// tests and embedded setups.
func NewStaticTuningHolder(cfg TuningConfig) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(withTuningDefaults(cfg))
	return holder
}

func (h *TuningHolder) Get() TuningConfig {
	return h.current.Load().(TuningConfig)
}

// unmarshalTuning decodes the tuning section and backfills defaults. The
// enabled flag needs an explicit presence check: a file that omits it keeps
// the sweep on, only "enabled: false" turns it off.
func unmarshalTuning(v *viper.Viper) (TuningConfig, error) {
	var cfg TuningConfig
	if err := v.UnmarshalKey("tuning", &cfg); err != nil {
		return TuningConfig{}, err
	}
	if !v.IsSet("tuning.reconcile.enabled") {
		cfg.Reconcile.Enabled = DefaultTuningConfig().Reconcile.Enabled
	}
	return withTuningDefaults(cfg), nil
}

func withTuningDefaults(cfg TuningConfig) TuningConfig {
	defaults := DefaultTuningConfig()
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = defaults.Reconcile.Interval
	}
	if cfg.Reconcile.BatchSize <= 0 {
		cfg.Reconcile.BatchSize = defaults.Reconcile.BatchSize
	}
	if cfg.Reconcile.JobTimeout <= 0 {
		cfg.Reconcile.JobTimeout = defaults.Reconcile.JobTimeout
	}
	if cfg.Ingest.MachinePerMinute <= 0 {
		cfg.Ingest.MachinePerMinute = defaults.Ingest.MachinePerMinute
	}
	if cfg.Ingest.Burst <= 0 {
		cfg.Ingest.Burst = defaults.Ingest.Burst
	}
	return cfg
}

func validateTuningConfig(cfg TuningConfig) error {
	if cfg.Reconcile.BatchSize <= 0 {
		return errors.New("tuning.reconcile.batchSize must be positive")
	}
	if cfg.Reconcile.Interval <= 0 {
		return errors.New("tuning.reconcile.interval must be positive")
	}
	if cfg.Ingest.MachinePerMinute <= 0 {
		return errors.New("tuning.ingest.machinePerMinute must be positive")
	}
	return nil
}
