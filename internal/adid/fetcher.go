// Package adid fetches the device advertising identifier from the platform
// advertising id service.
//
// A fetch binds the service, issues two transactions (identifier, then the
// limit-tracking flag) and always unbinds. Failures to bind or to call the
// service degrade to domain.DefaultAdvertisingInfo; a missing provider and
// cancellation are reported as errors.
package adid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/looper"
	"github.com/brianly1003/adid/internal/domain"
)

// Well-known names of the advertising id provider.
const (
	DefaultProviderPackage = "com.android.vending"
	DefaultServicePackage  = "com.google.android.gms"
	DefaultServiceAction   = "com.google.android.gms.ads.identifier.service.START"

	// DefaultBindTimeout bounds the wait for the service connection.
	DefaultBindTimeout = 10 * time.Second
)

// Result is the single completion of an asynchronous fetch.
type Result struct {
	Info domain.AdvertisingInfo
	Err  error
}

// Fetcher orchestrates advertising id fetches.
type Fetcher struct {
	platform        binder.Context
	providerPackage string
	intent          binder.Intent
	token           string
	bindTimeout     time.Duration
	trackingHint    bool
	onMainThread    func() bool

	channel *ServiceChannel
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithProviderPackage sets the package that must be installed before binding.
func WithProviderPackage(pkg string) Option {
	return func(f *Fetcher) {
		f.providerPackage = pkg
	}
}

// WithIntent sets the service intent to bind.
func WithIntent(intent binder.Intent) Option {
	return func(f *Fetcher) {
		f.intent = intent
	}
}

// WithInterfaceToken sets the contract token presented to the service. It
// must match the token the service enforces.
func WithInterfaceToken(token string) Option {
	return func(f *Fetcher) {
		f.token = token
	}
}

// WithBindTimeout bounds the wait for the service connection. Zero waits
// until the fetch context ends.
func WithBindTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.bindTimeout = d
	}
}

// WithLimitTrackingHint sets the argument sent with the limit-tracking call.
func WithLimitTrackingHint(hint bool) Option {
	return func(f *Fetcher) {
		f.trackingHint = hint
	}
}

// WithMainThreadCheck replaces the check used to refuse blocking on the main
// looper.
func WithMainThreadCheck(fn func() bool) Option {
	return func(f *Fetcher) {
		f.onMainThread = fn
	}
}

// NewFetcher creates a Fetcher using platform for discovery and binding.
func NewFetcher(platform binder.Context, opts ...Option) *Fetcher {
	f := &Fetcher{
		platform:        platform,
		providerPackage: DefaultProviderPackage,
		intent: binder.Intent{
			Action:  DefaultServiceAction,
			Package: DefaultServicePackage,
		},
		token:        InterfaceToken,
		bindTimeout:  DefaultBindTimeout,
		trackingHint: true,
		onMainThread: looper.OnMainThread,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.channel = NewServiceChannel(platform, f.intent, f.bindTimeout)
	return f
}

// Fetch blocks until the advertising id is known.
//
// It panics with a *domain.ProgrammingError when called on the main looper.
// It returns domain.ErrProviderUnavailable without binding when the provider
// package is missing, and domain.ErrFetchCancelled when ctx ends. Any other
// failure yields domain.DefaultAdvertisingInfo and a nil error.
func (f *Fetcher) Fetch(ctx context.Context) (domain.AdvertisingInfo, error) {
	if f.onMainThread != nil && f.onMainThread() {
		panic(domain.NewProgrammingError("advertising id fetch cannot run on the main thread"))
	}

	if _, err := f.platform.PackageInfo(f.providerPackage); err != nil {
		return domain.DefaultAdvertisingInfo, fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, f.providerPackage, err)
	}

	if err := ctx.Err(); err != nil {
		return domain.DefaultAdvertisingInfo, fmt.Errorf("%w: %w", domain.ErrFetchCancelled, err)
	}

	start := time.Now()
	info, err := f.fetch(ctx)
	if err == nil {
		log.Debug().
			Bool("limit_tracking", info.LimitTrackingEnabled).
			Dur("duration", time.Since(start)).
			Msg("advertising id fetched")
		return info, nil
	}

	// a call aborted by cancellation is still a cancellation
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, domain.ErrFetchCancelled) {
		err = fmt.Errorf("%w: %w", domain.ErrFetchCancelled, ctxErr)
	}
	if errors.Is(err, domain.ErrFetchCancelled) {
		return domain.DefaultAdvertisingInfo, err
	}

	if domain.IsSoftFailure(err) {
		log.Warn().
			Err(err).
			Str("code", domain.Code(err)).
			Msg("advertising id unavailable, using default")
		return domain.DefaultAdvertisingInfo, nil
	}
	return domain.DefaultAdvertisingInfo, err
}

func (f *Fetcher) fetch(ctx context.Context) (domain.AdvertisingInfo, error) {
	conn, err := f.channel.Connect(ctx)
	if err != nil {
		return domain.AdvertisingInfo{}, err
	}
	defer conn.Close()

	client := NewIdentifierClient(conn.Service, f.token)

	id, err := client.ID(ctx)
	if err != nil {
		return domain.AdvertisingInfo{}, err
	}
	limited, err := client.IsLimitTrackingEnabled(ctx, f.trackingHint)
	if err != nil {
		return domain.AdvertisingInfo{}, err
	}

	return domain.AdvertisingInfo{ID: id, LimitTrackingEnabled: limited}, nil
}

// FetchAsync runs Fetch on its own goroutine. The returned channel receives
// exactly one Result and is then closed.
func (f *Fetcher) FetchAsync(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		info, err := f.Fetch(ctx)
		ch <- Result{Info: info, Err: err}
	}()
	return ch
}

// FetchOn runs Fetch on its own goroutine and delivers the outcome once to
// done on l. The callback is dropped if l has quit.
func (f *Fetcher) FetchOn(ctx context.Context, l *looper.Looper, done func(domain.AdvertisingInfo, error)) {
	go func() {
		info, err := f.Fetch(ctx)
		if !l.Post(func() { done(info, err) }) {
			log.Warn().Msg("looper quit before advertising id result was delivered")
		}
	}()
}
