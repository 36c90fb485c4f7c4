package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MeteringConfig carries the tunables of quota pre-flight checks.
type MeteringConfig struct {
	// OutputEstimateRatio predicts output tokens from the prompt size.
	OutputEstimateRatio float64
	// DefaultQuotaCredits applies to unsubscribed users when no Free tier is
	// present in the catalog.
	DefaultQuotaCredits int64
}

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		OutputEstimateRatio: 2.5,
		DefaultQuotaCredits: 1000,
	}
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// NewStaticMeteringConfigHolder returns a holder that never reloads.
func NewStaticMeteringConfigHolder(cfg MeteringConfig) *MeteringConfigHolder {
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewMeteringConfigHolder(log *zap.Logger) (*MeteringConfigHolder, error) {
	log = log.Named("config.metering")
	v := viper.New()

	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creditmeter")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMeteringConfig()
	v.SetDefault("metering.output_estimate_ratio", defaults.OutputEstimateRatio)
	v.SetDefault("metering.default_quota_credits", defaults.DefaultQuotaCredits)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg := readMeteringConfig(v)
	if err := validateMeteringConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticMeteringConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := readMeteringConfig(v)
		if err := validateMeteringConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// readMeteringConfig resolves each key on its own so env, file and defaults
// merge per key rather than per section.
func readMeteringConfig(v *viper.Viper) MeteringConfig {
	return MeteringConfig{
		OutputEstimateRatio: v.GetFloat64("metering.output_estimate_ratio"),
		DefaultQuotaCredits: v.GetInt64("metering.default_quota_credits"),
	}
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	if h == nil {
		return DefaultMeteringConfig()
	}
	return h.current.Load().(MeteringConfig)
}

func validateMeteringConfig(cfg MeteringConfig) error {
	if cfg.OutputEstimateRatio < 0 {
		return errors.New("metering.output_estimate_ratio cannot be negative")
	}
	if cfg.DefaultQuotaCredits < 0 {
		return errors.New("metering.default_quota_credits cannot be negative")
	}
	return nil
}
