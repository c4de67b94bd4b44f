package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "HYPERIDE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "hyperide.db"
	defaultLogLevel        = "info"
	defaultExecTimeoutSecs = 10
	defaultTokenTTLMinutes = 480
	defaultAdminUsername   = "admin"
)

// AppConfig captures runtime configuration for the workspace server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	ExecURL       string
	ExecTimeout   time.Duration
	AdminUsername string
	AdminSecret   string
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
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("exec.timeout_seconds", defaultExecTimeoutSecs)
	configViper.SetDefault("admin.username", defaultAdminUsername)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		ExecURL:       configViper.GetString("exec.url"),
		ExecTimeout:   time.Duration(configViper.GetInt("exec.timeout_seconds")) * time.Second,
		AdminUsername: configViper.GetString("admin.username"),
		AdminSecret:   configViper.GetString("admin.secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ExecURL) == "" {
		return fmt.Errorf("exec.url is required")
	}
	if strings.TrimSpace(c.AdminUsername) == "" {
		return fmt.Errorf("admin.username is required")
	}
	return nil
}
