// Package platform implements binder.Context for a host process: a set of
// installed packages and a registry of bindable services, each either an
// in-process binder object or a remote binder host reached over websocket.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/rpc/client"
	"github.com/brianly1003/adid/internal/rpc/transport"
)

// Defaults for remote service connections.
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMaxMessageSize   = 512 * 1024
)

// service is one registered bindable service.
type service struct {
	component binder.ComponentName
	local     binder.Binder
	address   string
}

// Platform implements binder.Context.
type Platform struct {
	mu       sync.Mutex
	packages map[string]binder.PackageInfo
	services map[string][]service // by intent action
	bindings map[binder.ServiceConnection]*binding

	handshakeTimeout time.Duration
	maxMessageSize   int64
}

// Option configures a Platform.
type Option func(*Platform)

// WithHandshakeTimeout bounds the websocket handshake for remote services.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.handshakeTimeout = d
		}
	}
}

// WithMaxMessageSize limits replies read from remote services.
func WithMaxMessageSize(n int64) Option {
	return func(p *Platform) {
		if n > 0 {
			p.maxMessageSize = n
		}
	}
}

// New creates an empty platform.
func New(opts ...Option) *Platform {
	p := &Platform{
		packages:         make(map[string]binder.PackageInfo),
		services:         make(map[string][]service),
		bindings:         make(map[binder.ServiceConnection]*binding),
		handshakeTimeout: DefaultHandshakeTimeout,
		maxMessageSize:   DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InstallPackage marks a package as installed.
func (p *Platform) InstallPackage(name, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packages[name] = binder.PackageInfo{Name: name, VersionName: version}
}

// RegisterLocalService makes an in-process binder object bindable by action.
// The owning package is installed if it is not already.
func (p *Platform) RegisterLocalService(action string, component binder.ComponentName, b binder.Binder) {
	p.register(action, service{component: component, local: b})
}

// RegisterRemoteService makes the binder host at address bindable by action.
func (p *Platform) RegisterRemoteService(action string, component binder.ComponentName, address string) {
	p.register(action, service{component: component, address: address})
}

func (p *Platform) register(action string, s service) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.packages[s.component.Package]; !ok {
		p.packages[s.component.Package] = binder.PackageInfo{Name: s.component.Package}
	}
	p.services[action] = append(p.services[action], s)
}

// PackageInfo implements binder.Context.
func (p *Platform) PackageInfo(name string) (binder.PackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, ok := p.packages[name]
	if !ok {
		return binder.PackageInfo{}, fmt.Errorf("%w: %s", binder.ErrPackageNotFound, name)
	}
	return info, nil
}

// BindService implements binder.Context. The intent is resolved before
// returning; the connection callback follows on a new goroutine.
func (p *Platform) BindService(intent binder.Intent, conn binder.ServiceConnection, flags int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.bindings[conn]; exists {
		return fmt.Errorf("connection already bound to %s", intent)
	}

	svc, err := p.resolve(intent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &binding{
		conn:      conn,
		component: svc.component,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.bindings[conn] = b

	log.Debug().
		Str("intent", intent.String()).
		Str("component", svc.component.String()).
		Int("flags", flags).
		Msg("binding service")

	go p.connect(b, svc)
	return nil
}

// resolve must be called with p.mu held.
func (p *Platform) resolve(intent binder.Intent) (service, error) {
	if intent.Package != "" {
		if _, ok := p.packages[intent.Package]; !ok {
			return service{}, fmt.Errorf("%w: %s", binder.ErrPackageNotFound, intent.Package)
		}
	}
	for _, svc := range p.services[intent.Action] {
		if intent.Package == "" || svc.component.Package == intent.Package {
			return svc, nil
		}
	}
	return service{}, fmt.Errorf("%w: %s", binder.ErrServiceNotFound, intent)
}

func (p *Platform) connect(b *binding, svc service) {
	if svc.local != nil {
		b.connected(svc.local)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, p.handshakeTimeout)
	defer cancel()

	proxy, err := client.Dial(ctx, svc.address, p.handshakeTimeout,
		transport.WithMaxMessageSize(p.maxMessageSize))
	if err != nil {
		log.Warn().
			Str("component", svc.component.String()).
			Str("address", svc.address).
			Err(err).
			Msg("failed to reach remote service")
		b.died()
		return
	}

	if !b.attach(proxy) {
		// unbound while dialing
		_ = proxy.Close()
		return
	}
	b.connected(proxy)

	select {
	case <-proxy.Done():
		b.disconnected()
	case <-b.ctx.Done():
	}
}

// UnbindService implements binder.Context.
func (p *Platform) UnbindService(conn binder.ServiceConnection) error {
	p.mu.Lock()
	b, ok := p.bindings[conn]
	delete(p.bindings, conn)
	p.mu.Unlock()

	if !ok {
		return binder.ErrServiceNotRegistered
	}

	b.release()
	log.Debug().
		Str("component", b.component.String()).
		Msg("service unbound")
	return nil
}

// BindingCount returns the number of live bindings.
func (p *Platform) BindingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bindings)
}

// binding tracks one BindService call until it is unbound. Callbacks are
// suppressed once the binding is released.
type binding struct {
	conn      binder.ServiceConnection
	component binder.ComponentName

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	released bool
	proxy    *client.Proxy
}

func (b *binding) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.released
}

func (b *binding) attach(proxy *client.Proxy) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return false
	}
	b.proxy = proxy
	return true
}

func (b *binding) connected(service binder.Binder) {
	if b.active() {
		b.conn.OnServiceConnected(b.component, service)
	}
}

func (b *binding) disconnected() {
	if b.active() {
		b.conn.OnServiceDisconnected(b.component)
	}
}

func (b *binding) died() {
	if b.active() {
		b.conn.OnBindingDied(b.component)
	}
}

func (b *binding) release() {
	b.mu.Lock()
	b.released = true
	proxy := b.proxy
	b.proxy = nil
	b.mu.Unlock()

	b.cancel()
	if proxy != nil {
		_ = proxy.Close()
	}
}

// Ensure Platform implements binder.Context.
var _ binder.Context = (*Platform)(nil)
