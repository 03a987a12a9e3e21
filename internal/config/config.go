// Package config handles configuration management for adid.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Client   ClientConfig   `mapstructure:"client" yaml:"client"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Platform PlatformConfig `mapstructure:"platform" yaml:"platform"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Binder   BinderConfig   `mapstructure:"binder" yaml:"binder"`
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ClientConfig is the SDK configuration value. It is carried for callers and
// never interpreted by the fetcher.
type ClientConfig struct {
	AppID           string `mapstructure:"app_id" yaml:"app_id"`
	EndpointURL     string `mapstructure:"endpoint_url" yaml:"endpoint_url"`
	PrivateKey      string `mapstructure:"private_key" yaml:"private_key"`
	ManualAppLaunch bool   `mapstructure:"manual_app_launch" yaml:"manual_app_launch"`
}

// ProviderConfig names the provider package and the service to bind.
type ProviderConfig struct {
	Package        string `mapstructure:"package" yaml:"package"`
	ServicePackage string `mapstructure:"service_package" yaml:"service_package"`
	ServiceAction  string `mapstructure:"service_action" yaml:"service_action"`
	InterfaceToken string `mapstructure:"interface_token" yaml:"interface_token"`
}

// PlatformConfig describes the packages and services visible to the fetcher.
type PlatformConfig struct {
	InstalledPackages []string        `mapstructure:"installed_packages" yaml:"installed_packages"`
	Services          []ServiceRecord `mapstructure:"services" yaml:"services"`
}

// ServiceRecord maps an intent to a remote binder host.
type ServiceRecord struct {
	Action  string `mapstructure:"action" yaml:"action"`
	Package string `mapstructure:"package" yaml:"package"`
	Class   string `mapstructure:"class" yaml:"class,omitempty"`
	Address string `mapstructure:"address" yaml:"address"`
}

// FetchConfig holds fetcher behavior.
type FetchConfig struct {
	BindTimeout       time.Duration `mapstructure:"bind_timeout" yaml:"bind_timeout"`
	LimitTrackingHint bool          `mapstructure:"limit_tracking_hint" yaml:"limit_tracking_hint"`
}

// MarshalYAML writes the timeout in duration notation.
func (c FetchConfig) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"bind_timeout":        c.BindTimeout.String(),
		"limit_tracking_hint": c.LimitTrackingHint,
	}, nil
}

// BinderConfig holds remote binder transport settings.
type BinderConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	MaxMessageKB     int           `mapstructure:"max_message_kb" yaml:"max_message_kb"`
}

// MarshalYAML writes the timeout in duration notation.
func (c BinderConfig) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"handshake_timeout": c.HandshakeTimeout.String(),
		"max_message_kb":    c.MaxMessageKB,
	}, nil
}

// ServiceConfig holds provider host settings for `adid serve`.
type ServiceConfig struct {
	Host      string  `mapstructure:"host" yaml:"host"`
	Port      int     `mapstructure:"port" yaml:"port"`
	DBPath    string  `mapstructure:"db_path" yaml:"db_path"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range SearchPaths() {
			v.AddConfigPath(path)
		}
	}

	// Environment variable prefix
	v.SetEnvPrefix("ADID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("client.app_id", d.Client.AppID)
	v.SetDefault("client.endpoint_url", d.Client.EndpointURL)
	v.SetDefault("client.private_key", d.Client.PrivateKey)
	v.SetDefault("client.manual_app_launch", d.Client.ManualAppLaunch)

	v.SetDefault("provider.package", d.Provider.Package)
	v.SetDefault("provider.service_package", d.Provider.ServicePackage)
	v.SetDefault("provider.service_action", d.Provider.ServiceAction)
	v.SetDefault("provider.interface_token", d.Provider.InterfaceToken)

	v.SetDefault("platform.installed_packages", d.Platform.InstalledPackages)
	v.SetDefault("platform.services", serviceDefaults(d.Platform.Services))

	v.SetDefault("fetch.bind_timeout", d.Fetch.BindTimeout)
	v.SetDefault("fetch.limit_tracking_hint", d.Fetch.LimitTrackingHint)

	v.SetDefault("binder.handshake_timeout", d.Binder.HandshakeTimeout)
	v.SetDefault("binder.max_message_kb", d.Binder.MaxMessageKB)

	v.SetDefault("service.host", d.Service.Host)
	v.SetDefault("service.port", d.Service.Port)
	v.SetDefault("service.db_path", d.Service.DBPath)
	v.SetDefault("service.rate_limit", d.Service.RateLimit)
	v.SetDefault("service.burst", d.Service.Burst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) error {
	if cfg.Service.DBPath == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve config directory: %w", err)
		}
		cfg.Service.DBPath = filepath.Join(dir, DefaultDBName)
	}

	for i := range cfg.Platform.Services {
		if cfg.Platform.Services[i].Class == "" {
			cfg.Platform.Services[i].Class = cfg.Platform.Services[i].Action
		}
	}
	return nil
}

// SearchPaths returns the directories searched for config.yaml, in order.
func SearchPaths() []string {
	return []string{".", "$HOME/.adid", "/etc/adid"}
}

// GetConfigDir returns the user config directory for adid.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".adid"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
