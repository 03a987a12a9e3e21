package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/brianly1003/adid/internal/adid"
	"github.com/brianly1003/adid/internal/config"
	"github.com/brianly1003/adid/internal/domain"
	"github.com/brianly1003/adid/internal/service"
)

func TestPrintResults_Text(t *testing.T) {
	var buf bytes.Buffer
	results := []adid.Result{
		{Info: domain.AdvertisingInfo{ID: "abc", LimitTrackingEnabled: true}},
		{Info: domain.DefaultAdvertisingInfo},
		{Err: domain.ErrProviderUnavailable},
		{Info: domain.AdvertisingInfo{LimitTrackingEnabled: true}},
	}

	if err := printResults(&buf, results, false, false); err != nil {
		t.Fatalf("printResults: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"[1] Advertising ID:          abc", "[2] Advertising ID:          (unavailable)", "[3] error:", "PROVIDER_UNAVAILABLE", "[4] Advertising ID:          (none)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	results := []adid.Result{{Info: domain.AdvertisingInfo{ID: "abc", LimitTrackingEnabled: true}}}

	if err := printResults(&buf, results, true, false); err != nil {
		t.Fatalf("printResults: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["id"] != "abc" || got["limit_tracking_enabled"] != true {
		t.Fatalf("unexpected JSON: %v", got)
	}
	if _, ok := got["error"]; ok {
		t.Fatal("successful result must not carry an error field")
	}
}

func TestPrintResults_QR(t *testing.T) {
	var buf bytes.Buffer
	results := []adid.Result{{Info: domain.AdvertisingInfo{ID: "38400000-8cf0-11bd-b23e-10b96e40000d"}}}

	if err := printResults(&buf, results, false, true); err != nil {
		t.Fatalf("printResults: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines < 10 {
		t.Fatalf("expected a QR block, got %d lines", lines)
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var stderr bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "adid.log")
	logger := newLogger(config.LoggingConfig{
		Level:     "warn",
		Format:    "json",
		File:      logFile,
		MaxSizeMB: 1,
	}, false, &stderr)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	out := stderr.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record passed a warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"kept"`) {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestFetch_AgainstLocalProvider(t *testing.T) {
	cfg := config.Default()
	store := startProvider(t, cfg)

	fetcher := newFetcher(cfg, newPlatform(cfg))
	results := fetchConcurrently(context.Background(), fetcher, 4)

	ident, err := store.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("fetch %d: %v", i, r.Err)
		}
		if r.Info.ID != ident.ID {
			t.Errorf("fetch %d: id = %q, want %q", i, r.Info.ID, ident.ID)
		}
	}
}

// startProvider serves a provider built from cfg the way serve does and
// points cfg's service record at it.
func startProvider(t *testing.T, cfg *config.Config) *service.Store {
	t.Helper()

	store, err := service.OpenStore(filepath.Join(t.TempDir(), "adid.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := service.NewServer(service.ServerConfig{}, store, service.NewStub(store, cfg.Provider.InterfaceToken))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg.Platform.Services[0].Address = "ws" + strings.TrimPrefix(ts.URL, "http") + "/binder"
	return store
}

func TestFetch_CustomInterfaceToken(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.InterfaceToken = "com.example.ICustomAdIdService"
	store := startProvider(t, cfg)

	info, err := newFetcher(cfg, newPlatform(cfg)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	ident, err := store.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if info.ID != ident.ID {
		t.Fatalf("id = %q, want %q", info.ID, ident.ID)
	}
}

func TestFetch_MismatchedInterfaceTokenDegrades(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.InterfaceToken = "com.example.ICustomAdIdService"
	startProvider(t, cfg)

	// the client keeps the stock token
	client := *cfg
	client.Provider.InterfaceToken = ""

	info, err := newFetcher(&client, newPlatform(&client)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !info.IsZero() {
		t.Fatalf("info = %+v, want the default", info)
	}
}

func TestFetch_ProviderMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Platform.InstalledPackages = nil

	res := <-newFetcher(cfg, newPlatform(cfg)).FetchAsync(context.Background())
	if !errors.Is(res.Err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want provider unavailable", res.Err)
	}
}
