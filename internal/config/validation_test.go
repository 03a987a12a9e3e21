package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func TestValidate_Default(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
}

func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty provider package",
			mutate:  func(c *Config) { c.Provider.Package = "" },
			wantErr: "provider.package cannot be empty",
		},
		{
			name:    "empty interface token",
			mutate:  func(c *Config) { c.Provider.InterfaceToken = "" },
			wantErr: "provider.interface_token cannot be empty",
		},
		{
			name:    "blank installed package",
			mutate:  func(c *Config) { c.Platform.InstalledPackages = []string{" "} },
			wantErr: "platform.installed_packages[0] is empty",
		},
		{
			name:    "http service address",
			mutate:  func(c *Config) { c.Platform.Services[0].Address = "http://127.0.0.1:8790/binder" },
			wantErr: "platform.services[0].address must use one of these schemes",
		},
		{
			name:    "service address without host",
			mutate:  func(c *Config) { c.Platform.Services[0].Address = "ws:///binder" },
			wantErr: "must include a host",
		},
		{
			name:    "negative bind timeout",
			mutate:  func(c *Config) { c.Fetch.BindTimeout = -time.Second },
			wantErr: "fetch.bind_timeout cannot be negative",
		},
		{
			name:    "huge bind timeout",
			mutate:  func(c *Config) { c.Fetch.BindTimeout = time.Hour },
			wantErr: "fetch.bind_timeout cannot exceed",
		},
		{
			name:    "zero handshake timeout",
			mutate:  func(c *Config) { c.Binder.HandshakeTimeout = 0 },
			wantErr: "binder.handshake_timeout must be positive",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Service.Port = 70000 },
			wantErr: "service.port must be between 1 and 65535",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.Service.Burst = 0 },
			wantErr: "service.burst must be at least 1",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: `logging.level "loud"`,
		},
		{
			name: "log file without size",
			mutate: func(c *Config) {
				c.Logging.File = "/tmp/adid.log"
				c.Logging.MaxSizeMB = 0
			},
			wantErr: "logging.max_size_mb must be at least 1",
		},
		{
			name:    "zero bind timeout means unbounded",
			mutate:  func(c *Config) { c.Fetch.BindTimeout = 0 },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Provider.Package = ""
	cfg.Service.Port = 0
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("Validate() returned %T, want *multierror.Error", err)
	}
	if len(merr.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(merr.Errors), merr)
	}
}
