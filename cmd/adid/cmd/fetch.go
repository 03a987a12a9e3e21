package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brianly1003/adid/internal/adid"
	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/looper"
	"github.com/brianly1003/adid/internal/config"
	"github.com/brianly1003/adid/internal/domain"
	"github.com/brianly1003/adid/internal/platform"
)

var (
	fetchCount int
	fetchQR    bool
	fetchJSON  bool
)

// fetchCmd retrieves the advertising identifier.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the advertising identifier",
	Long: `Fetch the advertising identifier from the configured provider.

Binding or call failures print the default identity (empty id, tracking
allowed). A missing provider package or an interrupted fetch is an error.

Examples:
  adid fetch                # Fetch once
  adid fetch --json         # Print the result as JSON
  adid fetch --qr           # Also render the identifier as a QR code
  adid fetch --count 8      # Run 8 independent fetches concurrently`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVarP(&fetchCount, "count", "n", 1, "number of concurrent fetches")
	fetchCmd.Flags().BoolVar(&fetchQR, "qr", false, "render the identifier as a QR code")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print results as JSON")
}

// fetchOutput is the JSON form of one fetch.
type fetchOutput struct {
	domain.AdvertisingInfo
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	if fetchCount < 1 {
		return domain.NewValidationError("count", "must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := newFetcher(cfg, newPlatform(cfg))

	// Results are delivered on the main looper, which owns this goroutine
	// until the fetches complete.
	mainLoop := looper.PrepareMainLooper()

	var (
		results []adid.Result
		runErr  error
	)
	deliver := func(rs []adid.Result) {
		results = rs
		mainLoop.Quit()
	}

	if fetchCount == 1 {
		fetcher.FetchOn(ctx, mainLoop, func(info domain.AdvertisingInfo, err error) {
			deliver([]adid.Result{{Info: info, Err: err}})
		})
	} else {
		go func() {
			rs := fetchConcurrently(ctx, fetcher, fetchCount)
			mainLoop.Post(func() { deliver(rs) })
		}()
	}

	// an interrupt cancels ctx; the fetches then complete with
	// domain.ErrFetchCancelled, so the loop itself is not cancelled
	if err := mainLoop.Loop(context.Background()); err != nil {
		return err
	}

	for _, r := range results {
		if r.Err != nil && runErr == nil {
			runErr = r.Err
		}
	}

	if err := printResults(cmd.OutOrStdout(), results, fetchJSON, fetchQR); err != nil {
		return err
	}
	return runErr
}

// newPlatform builds the binder context described by the platform section.
func newPlatform(cfg *config.Config) *platform.Platform {
	p := platform.New(
		platform.WithHandshakeTimeout(cfg.Binder.HandshakeTimeout),
		platform.WithMaxMessageSize(int64(cfg.Binder.MaxMessageKB)*1024),
	)

	for _, pkg := range cfg.Platform.InstalledPackages {
		p.InstallPackage(pkg, "")
	}
	for _, svc := range cfg.Platform.Services {
		p.RegisterRemoteService(svc.Action, binder.ComponentName{
			Package: svc.Package,
			Class:   svc.Class,
		}, svc.Address)
	}
	return p
}

func newFetcher(cfg *config.Config, ctx binder.Context) *adid.Fetcher {
	return adid.NewFetcher(ctx,
		adid.WithProviderPackage(cfg.Provider.Package),
		adid.WithIntent(binder.Intent{
			Action:  cfg.Provider.ServiceAction,
			Package: cfg.Provider.ServicePackage,
		}),
		adid.WithInterfaceToken(cfg.Provider.InterfaceToken),
		adid.WithBindTimeout(cfg.Fetch.BindTimeout),
		adid.WithLimitTrackingHint(cfg.Fetch.LimitTrackingHint),
	)
}

// fetchConcurrently runs n independent fetches. Each fetch owns its own
// binding; results keep their launch order.
func fetchConcurrently(ctx context.Context, fetcher *adid.Fetcher, n int) []adid.Result {
	results := make([]adid.Result, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res := <-fetcher.FetchAsync(ctx)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().Int("count", n).Msg("concurrent fetches complete")
	return results
}

func printResults(w io.Writer, results []adid.Result, asJSON, withQR bool) error {
	if asJSON {
		out := make([]fetchOutput, 0, len(results))
		for _, r := range results {
			o := fetchOutput{AdvertisingInfo: r.Info}
			if r.Err != nil {
				o.Error = r.Err.Error()
				o.ErrorCode = domain.Code(r.Err)
			}
			out = append(out, o)
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(out) == 1 {
			return enc.Encode(out[0])
		}
		return enc.Encode(out)
	}

	for i, r := range results {
		prefix := ""
		if len(results) > 1 {
			prefix = fmt.Sprintf("[%d] ", i+1)
		}
		if r.Err != nil {
			fmt.Fprintf(w, "%serror: %v (%s)\n", prefix, r.Err, domain.Code(r.Err))
			continue
		}

		id := r.Info.ID
		switch {
		case r.Info.IsZero():
			id = "(unavailable)"
		case id == "":
			id = "(none)"
		}
		fmt.Fprintf(w, "%sAdvertising ID:          %s\n", prefix, id)
		fmt.Fprintf(w, "%sLimit ad tracking:       %t\n", prefix, r.Info.LimitTrackingEnabled)

		if withQR && r.Info.ID != "" {
			qr, err := renderQR(r.Info.ID)
			if err != nil {
				return fmt.Errorf("failed to render QR code: %w", err)
			}
			fmt.Fprintln(w, qr)
		}
	}
	return nil
}

func renderQR(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}
