package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RuntimeConfig is the hot-reloadable policy read from lifecycle.yml.
type RuntimeConfig struct {
	TaxRatePercent         float64             `mapstructure:"taxRatePercent"`
	DefaultAlertRecipients []string            `mapstructure:"defaultAlertRecipients"`
	ReminderDays           []int               `mapstructure:"reminderDays"`
	Concurrency            int                 `mapstructure:"concurrency"`
	BatchSize              int                 `mapstructure:"batchSize"`
	DefaultRetention       RetentionDefaults   `mapstructure:"defaultRetention"`
	Jobs                   map[string]JobEntry `mapstructure:"jobs"`
}

// RetentionDefaults apply when no global retention policy row exists.
type RetentionDefaults struct {
	GraceDays      int `mapstructure:"graceDays"`
	ArchiveDays    int `mapstructure:"archiveDays"`
	HardDeleteDays int `mapstructure:"hardDeleteDays"`
}

type JobEntry struct {
	Enabled *bool         `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TaxRatePercent: 18,
		ReminderDays:   []int{7, 3, 2, 1},
		Concurrency:    1,
		BatchSize:      100,
		DefaultRetention: RetentionDefaults{
			GraceDays:      30,
			ArchiveDays:    60,
			HardDeleteDays: 0,
		},
		Jobs: map[string]JobEntry{},
	}
}

// JobEnabled reports whether the named job should run. Unlisted jobs are enabled.
func (c RuntimeConfig) JobEnabled(name string) bool {
	entry, ok := c.Jobs[strings.ToLower(name)]
	if !ok || entry.Enabled == nil {
		return true
	}
	return *entry.Enabled
}

// JobTimeout returns the configured timeout for a job or def when unset.
func (c RuntimeConfig) JobTimeout(name string, def time.Duration) time.Duration {
	entry, ok := c.Jobs[strings.ToLower(name)]
	if !ok || entry.Timeout <= 0 {
		return def
	}
	return entry.Timeout
}

type RuntimeConfigHolder struct {
	current atomic.Value // holds RuntimeConfig
}

// NewStaticRuntimeConfig wraps a fixed RuntimeConfig without file watching.
func NewStaticRuntimeConfig(cfg RuntimeConfig) *RuntimeConfigHolder {
	holder := &RuntimeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewRuntimeConfigHolder(cfg Config, log *zap.Logger) (*RuntimeConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("runtime-config")

	v := viper.New()
	v.SetConfigName("lifecycle")
	v.SetConfigType("yml")
	if cfg.RuntimeConfigDir != "" {
		v.AddConfigPath(cfg.RuntimeConfigDir)
	}
	v.AddConfigPath("/etc/lifecycle")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LIFECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRuntimeConfig()
	v.SetDefault("lifecycle.taxRatePercent", defaults.TaxRatePercent)
	v.SetDefault("lifecycle.reminderDays", defaults.ReminderDays)
	v.SetDefault("lifecycle.concurrency", defaults.Concurrency)
	v.SetDefault("lifecycle.batchSize", defaults.BatchSize)
	v.SetDefault("lifecycle.defaultRetention.graceDays", defaults.DefaultRetention.GraceDays)
	v.SetDefault("lifecycle.defaultRetention.archiveDays", defaults.DefaultRetention.ArchiveDays)
	v.SetDefault("lifecycle.defaultRetention.hardDeleteDays", defaults.DefaultRetention.HardDeleteDays)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
		log.Info("lifecycle.yml not found, using defaults")
	}

	loaded, err := decodeRuntimeConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &RuntimeConfigHolder{}
	holder.current.Store(loaded)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeRuntimeConfig(v)
			if err != nil {
				log.Warn("runtime config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("runtime config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *RuntimeConfigHolder) Get() RuntimeConfig {
	return h.current.Load().(RuntimeConfig)
}

func decodeRuntimeConfig(v *viper.Viper) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	if err := v.UnmarshalKey("lifecycle", &cfg); err != nil {
		return RuntimeConfig{}, err
	}
	normalized := make(map[string]JobEntry, len(cfg.Jobs))
	for name, entry := range cfg.Jobs {
		normalized[strings.ToLower(strings.TrimSpace(name))] = entry
	}
	cfg.Jobs = normalized
	if err := validateRuntimeConfig(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func validateRuntimeConfig(cfg RuntimeConfig) error {
	if cfg.TaxRatePercent < 0 {
		return errors.New("lifecycle.taxRatePercent cannot be negative")
	}
	for _, d := range cfg.ReminderDays {
		if d <= 0 {
			return fmt.Errorf("lifecycle.reminderDays contains non-positive value %d", d)
		}
	}
	if cfg.Concurrency <= 0 {
		return errors.New("lifecycle.concurrency must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("lifecycle.batchSize must be positive")
	}
	r := cfg.DefaultRetention
	if r.GraceDays < 0 || r.ArchiveDays < 0 || r.HardDeleteDays < 0 {
		return errors.New("lifecycle.defaultRetention values cannot be negative")
	}
	return nil
}
