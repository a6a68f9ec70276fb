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

// FixedCosts are the flat per-operation estimates for low-variance calls.
type FixedCosts struct {
	Wake  int64 `mapstructure:"wake"`
	Agent int64 `mapstructure:"agent"`
	Hook  int64 `mapstructure:"hook"`
	Tools int64 `mapstructure:"tools"`
}

// MeteringConfig drives cost estimation and upstream deadlines.
type MeteringConfig struct {
	FixedCosts      FixedCosts    `mapstructure:"fixed_costs"`
	ContentFloor    int64         `mapstructure:"content_floor"`
	CharsPerToken   int64         `mapstructure:"chars_per_token"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout"`
	MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
}

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		FixedCosts: FixedCosts{
			Wake:  100,
			Agent: 500,
			Hook:  100,
			Tools: 200,
		},
		ContentFloor:    100,
		CharsPerToken:   4,
		DefaultTimeout:  120 * time.Second,
		MaxTimeout:      600 * time.Second,
		MaxRequestBytes: 8 << 20,
	}
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// NewMeteringConfigHolder reads metering.yml (or METERING_CONFIG_PATH) and
// keeps it hot-reloaded. Defaults apply when no file exists.
func NewMeteringConfigHolder(cfg Config, log *zap.Logger) (*MeteringConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.metering")

	v := viper.New()
	if cfg.MeteringConfigPath != "" {
		v.SetConfigFile(cfg.MeteringConfigPath)
	} else {
		v.SetConfigName("metering")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tokenmeter")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOKENMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setMeteringDefaults(v)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read metering config: %w", err)
		}
		fileLoaded = false
	}

	current, err := decodeMeteringConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &MeteringConfigHolder{}
	holder.current.Store(current)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeMeteringConfig(v)
			if err != nil {
				log.Warn("metering config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("metering config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticMeteringConfig returns a holder that never reloads.
func NewStaticMeteringConfig(cfg MeteringConfig) (*MeteringConfigHolder, error) {
	if err := validateMeteringConfig(cfg); err != nil {
		return nil, err
	}
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	if h == nil {
		return DefaultMeteringConfig()
	}
	return h.current.Load().(MeteringConfig)
}

func setMeteringDefaults(v *viper.Viper) {
	defaults := DefaultMeteringConfig()
	v.SetDefault("metering.fixed_costs.wake", defaults.FixedCosts.Wake)
	v.SetDefault("metering.fixed_costs.agent", defaults.FixedCosts.Agent)
	v.SetDefault("metering.fixed_costs.hook", defaults.FixedCosts.Hook)
	v.SetDefault("metering.fixed_costs.tools", defaults.FixedCosts.Tools)
	v.SetDefault("metering.content_floor", defaults.ContentFloor)
	v.SetDefault("metering.chars_per_token", defaults.CharsPerToken)
	v.SetDefault("metering.default_timeout", defaults.DefaultTimeout)
	v.SetDefault("metering.max_timeout", defaults.MaxTimeout)
	v.SetDefault("metering.max_request_bytes", defaults.MaxRequestBytes)
}

func decodeMeteringConfig(v *viper.Viper) (MeteringConfig, error) {
	var cfg MeteringConfig
	if err := v.UnmarshalKey("metering", &cfg); err != nil {
		return MeteringConfig{}, fmt.Errorf("decode metering config: %w", err)
	}
	if err := validateMeteringConfig(cfg); err != nil {
		return MeteringConfig{}, err
	}
	return cfg, nil
}

func validateMeteringConfig(cfg MeteringConfig) error {
	costs := cfg.FixedCosts
	if costs.Wake <= 0 || costs.Agent <= 0 || costs.Hook <= 0 || costs.Tools <= 0 {
		return errors.New("metering.fixed_costs must all be positive")
	}
	if cfg.ContentFloor <= 0 {
		return errors.New("metering.content_floor must be positive")
	}
	if cfg.CharsPerToken <= 0 {
		return errors.New("metering.chars_per_token must be positive")
	}
	if cfg.DefaultTimeout <= 0 {
		return errors.New("metering.default_timeout must be positive")
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		return errors.New("metering.max_timeout cannot be below default_timeout")
	}
	if cfg.MaxRequestBytes <= 0 {
		return errors.New("metering.max_request_bytes must be positive")
	}
	return nil
}
