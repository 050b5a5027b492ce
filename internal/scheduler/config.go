package scheduler

import (
	"time"

	"github.com/smallbiznis/fxpay/internal/config"
)

// Config controls scheduler intervals and job selection.
type Config struct {
	RunInterval             time.Duration
	RateRefreshInterval     time.Duration
	SweepInterval           time.Duration
	VolumeReconcileInterval time.Duration
	DailySettlementHour     int
	Location                *time.Location
	JobTimeout              time.Duration
	SettlementTimeout       time.Duration
	LockTTL                 time.Duration
	EnabledJobs             []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:             time.Minute,
		RateRefreshInterval:     time.Hour,
		SweepInterval:           10 * time.Minute,
		VolumeReconcileInterval: time.Hour,
		DailySettlementHour:     2,
		Location:                time.UTC,
		JobTimeout:              30 * time.Second,
		SettlementTimeout:       10 * time.Minute,
		LockTTL:                 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RateRefreshInterval <= 0 {
		c.RateRefreshInterval = defaults.RateRefreshInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.VolumeReconcileInterval <= 0 {
		c.VolumeReconcileInterval = defaults.VolumeReconcileInterval
	}
	if c.DailySettlementHour < 0 || c.DailySettlementHour > 23 {
		c.DailySettlementHour = defaults.DailySettlementHour
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SettlementTimeout <= 0 {
		c.SettlementTimeout = defaults.SettlementTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:         cfg.Scheduler.RunInterval,
		DailySettlementHour: cfg.Settlement.DailyRunHour,
		Location:            cfg.Settlement.LoadLocation(),
		EnabledJobs:         cfg.Scheduler.Jobs,
	}.withDefaults()
}
