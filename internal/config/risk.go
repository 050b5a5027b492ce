package config

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RiskConfig holds fraud screening thresholds. Snapshots are immutable once stored.
type RiskConfig struct {
	VelocityWindow       time.Duration `mapstructure:"velocityWindow"`
	MerchantHourlyLimit  int           `mapstructure:"merchantHourlyLimit"`
	MerchantHourlyAmount float64       `mapstructure:"merchantHourlyAmount"`
	CustomerHourlyLimit  int           `mapstructure:"customerHourlyLimit"`
	DuplicateWindow      time.Duration `mapstructure:"duplicateWindow"`
	DuplicateLimit       int           `mapstructure:"duplicateLimit"`
	MaxAmount            float64       `mapstructure:"maxAmount"`
	StdDevMultiplier     float64       `mapstructure:"stdDevMultiplier"`
	RoundAmountStep      float64       `mapstructure:"roundAmountStep"`
	RoundAmountMin       float64       `mapstructure:"roundAmountMin"`
	UnusualHourStart     int           `mapstructure:"unusualHourStart"`
	UnusualHourEnd       int           `mapstructure:"unusualHourEnd"`
	AnonymousAmountLimit float64       `mapstructure:"anonymousAmountLimit"`
	AlertScore           int           `mapstructure:"alertScore"`
	BlockScore           int           `mapstructure:"blockScore"`
	Location             string        `mapstructure:"location"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		VelocityWindow:       time.Hour,
		MerchantHourlyLimit:  50,
		MerchantHourlyAmount: 50_000,
		CustomerHourlyLimit:  10,
		DuplicateWindow:      5 * time.Minute,
		DuplicateLimit:       5,
		MaxAmount:            100_000,
		StdDevMultiplier:     3,
		RoundAmountStep:      100,
		RoundAmountMin:       1000,
		UnusualHourStart:     2,
		UnusualHourEnd:       5,
		AnonymousAmountLimit: 5000,
		AlertScore:           50,
		BlockScore:           70,
		Location:             "UTC",
	}
}

// LoadLocation resolves the timezone used for hour-of-day checks.
func (c RiskConfig) LoadLocation() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Location))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// RiskConfigUpdate lists the thresholds that may change at runtime. Nil fields are left untouched.
type RiskConfigUpdate struct {
	MerchantHourlyLimit  *int
	MerchantHourlyAmount *float64
	CustomerHourlyLimit  *int
	MaxAmount            *float64
	AlertScore           *int
	BlockScore           *int
}

type RiskConfigHolder struct {
	mu      sync.Mutex
	current atomic.Value // holds RiskConfig
}

// NewStaticRiskConfigHolder returns a holder that never reloads from disk.
func NewStaticRiskConfigHolder(cfg RiskConfig) (*RiskConfigHolder, error) {
	if err := validateRiskConfig(cfg); err != nil {
		return nil, err
	}
	holder := &RiskConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewRiskConfigHolder(log *zap.Logger) (*RiskConfigHolder, error) {
	log = log.Named("config.risk")
	v := viper.New()

	v.SetConfigName("risk")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fxpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FXPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRiskConfig()
	v.SetDefault("risk.velocityWindow", defaults.VelocityWindow)
	v.SetDefault("risk.merchantHourlyLimit", defaults.MerchantHourlyLimit)
	v.SetDefault("risk.merchantHourlyAmount", defaults.MerchantHourlyAmount)
	v.SetDefault("risk.customerHourlyLimit", defaults.CustomerHourlyLimit)
	v.SetDefault("risk.duplicateWindow", defaults.DuplicateWindow)
	v.SetDefault("risk.duplicateLimit", defaults.DuplicateLimit)
	v.SetDefault("risk.maxAmount", defaults.MaxAmount)
	v.SetDefault("risk.stdDevMultiplier", defaults.StdDevMultiplier)
	v.SetDefault("risk.roundAmountStep", defaults.RoundAmountStep)
	v.SetDefault("risk.roundAmountMin", defaults.RoundAmountMin)
	v.SetDefault("risk.unusualHourStart", defaults.UnusualHourStart)
	v.SetDefault("risk.unusualHourEnd", defaults.UnusualHourEnd)
	v.SetDefault("risk.anonymousAmountLimit", defaults.AnonymousAmountLimit)
	v.SetDefault("risk.alertScore", defaults.AlertScore)
	v.SetDefault("risk.blockScore", defaults.BlockScore)
	v.SetDefault("risk.location", defaults.Location)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg RiskConfig
	if err := v.UnmarshalKey("risk", &cfg); err != nil {
		return nil, err
	}
	holder, err := NewStaticRiskConfigHolder(cfg)
	if err != nil {
		return nil, err
	}

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated RiskConfig
			if err := v.UnmarshalKey("risk", &updated); err != nil {
				log.Warn("risk config reload failed", zap.Error(err))
				return
			}
			if err := holder.store(updated); err != nil {
				log.Warn("invalid risk config ignored", zap.Error(err))
				return
			}
			log.Info("risk config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *RiskConfigHolder) Get() RiskConfig {
	if h == nil {
		return DefaultRiskConfig()
	}
	cfg, ok := h.current.Load().(RiskConfig)
	if !ok {
		return DefaultRiskConfig()
	}
	return cfg
}

// ApplyUpdate copies the whitelisted fields onto a fresh snapshot and swaps it in.
func (h *RiskConfigHolder) ApplyUpdate(update RiskConfigUpdate) (RiskConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.Get()
	if update.MerchantHourlyLimit != nil {
		next.MerchantHourlyLimit = *update.MerchantHourlyLimit
	}
	if update.MerchantHourlyAmount != nil {
		next.MerchantHourlyAmount = *update.MerchantHourlyAmount
	}
	if update.CustomerHourlyLimit != nil {
		next.CustomerHourlyLimit = *update.CustomerHourlyLimit
	}
	if update.MaxAmount != nil {
		next.MaxAmount = *update.MaxAmount
	}
	if update.AlertScore != nil {
		next.AlertScore = *update.AlertScore
	}
	if update.BlockScore != nil {
		next.BlockScore = *update.BlockScore
	}
	if err := validateRiskConfig(next); err != nil {
		return h.Get(), err
	}
	h.current.Store(next)
	return next, nil
}

func (h *RiskConfigHolder) store(cfg RiskConfig) error {
	if err := validateRiskConfig(cfg); err != nil {
		return err
	}
	h.mu.Lock()
	h.current.Store(cfg)
	h.mu.Unlock()
	return nil
}

func validateRiskConfig(cfg RiskConfig) error {
	if cfg.VelocityWindow <= 0 {
		return errors.New("risk.velocityWindow must be positive")
	}
	if cfg.MerchantHourlyLimit <= 0 || cfg.CustomerHourlyLimit <= 0 {
		return errors.New("risk velocity limits must be positive")
	}
	if cfg.MerchantHourlyAmount <= 0 || cfg.MaxAmount <= 0 {
		return errors.New("risk amount caps must be positive")
	}
	if cfg.AlertScore < 0 || cfg.BlockScore > 100 || cfg.AlertScore > cfg.BlockScore {
		return errors.New("risk scores must satisfy 0 <= alertScore <= blockScore <= 100")
	}
	if cfg.UnusualHourStart < 0 || cfg.UnusualHourEnd > 23 || cfg.UnusualHourStart > cfg.UnusualHourEnd {
		return errors.New("risk unusual hour window is invalid")
	}
	return nil
}
