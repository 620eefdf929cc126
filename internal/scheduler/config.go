package scheduler

import (
	"time"

	"github.com/smallbiznis/lifecycle/internal/config"
)

// Config controls the run loop and per-job limits.
type Config struct {
	RunInterval    time.Duration
	DefaultTimeout time.Duration
	// LockGrace extends the job lock past the job timeout so a slow release
	// never lets a second run start early.
	LockGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Hour,
		DefaultTimeout: 10 * time.Minute,
		LockGrace:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaults.DefaultTimeout
	}
	if c.LockGrace <= 0 {
		c.LockGrace = defaults.LockGrace
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{RunInterval: cfg.SchedulerInterval}.withDefaults()
}
