package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Validate validates the configuration and reports every problem found.
func Validate(cfg *Config) error {
	var result *multierror.Error

	result = multierror.Append(result, validateProvider(&cfg.Provider)...)
	result = multierror.Append(result, validatePlatform(&cfg.Platform)...)
	result = multierror.Append(result, validateFetch(&cfg.Fetch)...)
	result = multierror.Append(result, validateBinder(&cfg.Binder)...)
	result = multierror.Append(result, validateService(&cfg.Service)...)
	result = multierror.Append(result, validateLogging(&cfg.Logging)...)

	return result.ErrorOrNil()
}

func validateProvider(cfg *ProviderConfig) []error {
	var errs []error
	if cfg.Package == "" {
		errs = append(errs, fmt.Errorf("provider.package cannot be empty"))
	}
	if cfg.ServiceAction == "" {
		errs = append(errs, fmt.Errorf("provider.service_action cannot be empty"))
	}
	if cfg.InterfaceToken == "" {
		errs = append(errs, fmt.Errorf("provider.interface_token cannot be empty"))
	}
	return errs
}

func validatePlatform(cfg *PlatformConfig) []error {
	var errs []error
	for i, pkg := range cfg.InstalledPackages {
		if strings.TrimSpace(pkg) == "" {
			errs = append(errs, fmt.Errorf("platform.installed_packages[%d] is empty", i))
		}
	}
	for i, svc := range cfg.Services {
		field := fmt.Sprintf("platform.services[%d]", i)
		if svc.Action == "" {
			errs = append(errs, fmt.Errorf("%s.action cannot be empty", field))
		}
		if svc.Package == "" {
			errs = append(errs, fmt.Errorf("%s.package cannot be empty", field))
		}
		if err := validateAddress(svc.Address, field+".address"); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// validateAddress checks that a service address is a websocket URL.
func validateAddress(rawURL, fieldName string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	if !strings.EqualFold(parsed.Scheme, "ws") && !strings.EqualFold(parsed.Scheme, "wss") {
		return fmt.Errorf("%s must use one of these schemes: ws, wss", fieldName)
	}
	return nil
}

func validateFetch(cfg *FetchConfig) []error {
	var errs []error
	if cfg.BindTimeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.bind_timeout cannot be negative"))
	}
	if cfg.BindTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("fetch.bind_timeout cannot exceed 5m"))
	}
	return errs
}

func validateBinder(cfg *BinderConfig) []error {
	var errs []error
	if cfg.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("binder.handshake_timeout must be positive"))
	}
	if cfg.MaxMessageKB < 1 {
		errs = append(errs, fmt.Errorf("binder.max_message_kb must be at least 1"))
	}
	if cfg.MaxMessageKB > 16384 {
		errs = append(errs, fmt.Errorf("binder.max_message_kb cannot exceed 16384 (16MB)"))
	}
	return errs
}

func validateService(cfg *ServiceConfig) []error {
	var errs []error
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("service.port must be between 1 and 65535"))
	}
	if cfg.Host == "" {
		errs = append(errs, fmt.Errorf("service.host cannot be empty"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("service.rate_limit cannot be negative"))
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		errs = append(errs, fmt.Errorf("service.burst must be at least 1 when service.rate_limit is set"))
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) []error {
	var errs []error
	if _, err := zerolog.ParseLevel(cfg.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level %q is not a valid level", cfg.Level))
	}
	switch cfg.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json"))
	}
	if cfg.File != "" {
		if cfg.MaxSizeMB < 1 {
			errs = append(errs, fmt.Errorf("logging.max_size_mb must be at least 1"))
		}
		if cfg.MaxBackups < 0 {
			errs = append(errs, fmt.Errorf("logging.max_backups cannot be negative"))
		}
		if cfg.MaxAgeDays < 0 {
			errs = append(errs, fmt.Errorf("logging.max_age_days cannot be negative"))
		}
	}
	return errs
}
