package config

import (
	"fmt"
	"time"

	"github.com/brianly1003/adid/internal/adid"
)

// Default values shared by setDefaults and `adid config init`.
const (
	DefaultServiceHost  = "127.0.0.1"
	DefaultServicePort  = 8790
	DefaultDBName       = "adid.db"
	DefaultServiceClass = "com.google.android.gms.ads.identifier.service.AdvertisingIdService"
)

// Default returns the configuration used when no file or environment
// overrides are present. Out of the box the fetcher binds to a local
// `adid serve` instance.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Package:        adid.DefaultProviderPackage,
			ServicePackage: adid.DefaultServicePackage,
			ServiceAction:  adid.DefaultServiceAction,
			InterfaceToken: adid.InterfaceToken,
		},
		Platform: PlatformConfig{
			InstalledPackages: []string{adid.DefaultProviderPackage},
			Services: []ServiceRecord{{
				Action:  adid.DefaultServiceAction,
				Package: adid.DefaultServicePackage,
				Class:   DefaultServiceClass,
				Address: fmt.Sprintf("ws://%s:%d/binder", DefaultServiceHost, DefaultServicePort),
			}},
		},
		Fetch: FetchConfig{
			BindTimeout:       adid.DefaultBindTimeout,
			LimitTrackingHint: true,
		},
		Binder: BinderConfig{
			HandshakeTimeout: 5 * time.Second,
			MaxMessageKB:     512,
		},
		Service: ServiceConfig{
			Host:      DefaultServiceHost,
			Port:      DefaultServicePort,
			RateLimit: 50,
			Burst:     20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// serviceDefaults converts records to the map form viper stores defaults in.
func serviceDefaults(records []ServiceRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		out = append(out, map[string]interface{}{
			"action":  r.Action,
			"package": r.Package,
			"class":   r.Class,
			"address": r.Address,
		})
	}
	return out
}
