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

// RegistrationConfig tunes pricing windows and registration defaults.
type RegistrationConfig struct {
	EarlyDiscountGrace time.Duration `mapstructure:"earlyDiscountGrace"`
	DefaultTimezone    string        `mapstructure:"defaultTimezone"`
	DefaultTeamSize    int           `mapstructure:"defaultTeamSize"`
}

func DefaultRegistrationConfig() RegistrationConfig {
	return RegistrationConfig{
		EarlyDiscountGrace: 5 * time.Minute,
		DefaultTimezone:    "America/New_York",
		DefaultTeamSize:    4,
	}
}

type RegistrationConfigHolder struct {
	current atomic.Value // holds RegistrationConfig
}

// NewStaticRegistrationConfigHolder pins a config without watching any file.
func NewStaticRegistrationConfigHolder(cfg RegistrationConfig) *RegistrationConfigHolder {
	holder := &RegistrationConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewRegistrationConfigHolder() (*RegistrationConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("registration")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/lanes")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LANES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRegistrationConfig()
	v.SetDefault("registration.earlyDiscountGrace", defaults.EarlyDiscountGrace)
	v.SetDefault("registration.defaultTimezone", defaults.DefaultTimezone)
	v.SetDefault("registration.defaultTeamSize", defaults.DefaultTeamSize)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	cfg := DefaultRegistrationConfig()
	if err := v.UnmarshalKey("registration", &cfg); err != nil {
		return nil, err
	}
	if err := validateRegistrationConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticRegistrationConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultRegistrationConfig()
		if err := v.UnmarshalKey("registration", &updated); err != nil {
			log.Printf("[registration-config] reload failed: %v", err)
			return
		}
		if err := validateRegistrationConfig(updated); err != nil {
			log.Printf("[registration-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[registration-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RegistrationConfigHolder) Get() RegistrationConfig {
	if h == nil {
		return DefaultRegistrationConfig()
	}
	return h.current.Load().(RegistrationConfig)
}

func validateRegistrationConfig(cfg RegistrationConfig) error {
	if cfg.EarlyDiscountGrace < 0 {
		return errors.New("registration.earlyDiscountGrace cannot be negative")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.DefaultTimezone)); err != nil {
		return errors.New("registration.defaultTimezone is not a valid IANA zone")
	}
	if cfg.DefaultTeamSize <= 0 {
		return errors.New("registration.defaultTeamSize must be positive")
	}
	return nil
}
