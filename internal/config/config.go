package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "QUILLPAD"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "quillpad.db"
	defaultLogLevel      = "info"
	defaultRateLimit     = 15
	defaultRateWindowSec = 60
	defaultFlushGraceMS  = 500
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	RateLimit    int
	RateWindow   time.Duration
	FlushGrace   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("limit.connections", defaultRateLimit)
	configViper.SetDefault("limit.window_seconds", defaultRateWindowSec)
	configViper.SetDefault("limit.flush_grace_ms", defaultFlushGraceMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		RateLimit:    configViper.GetInt("limit.connections"),
		RateWindow:   time.Duration(configViper.GetInt("limit.window_seconds")) * time.Second,
		FlushGrace:   time.Duration(configViper.GetInt("limit.flush_grace_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("limit.connections must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("limit.window_seconds must be positive")
	}
	if c.FlushGrace <= 0 {
		return fmt.Errorf("limit.flush_grace_ms must be positive")
	}
	return nil
}
