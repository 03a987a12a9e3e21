package adid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/domain"
)

var errBindingDied = errors.New("binding died before connecting")

// ServiceChannel binds a well-known remote service and hands its connection
// to the caller exactly once per Connect.
type ServiceChannel struct {
	platform binder.Context
	intent   binder.Intent
	flags    int
	timeout  time.Duration
}

// NewServiceChannel creates a channel for intent. A zero timeout waits for
// the connection until ctx ends.
func NewServiceChannel(platform binder.Context, intent binder.Intent, timeout time.Duration) *ServiceChannel {
	return &ServiceChannel{
		platform: platform,
		intent:   intent,
		flags:    binder.BindAutoCreate,
		timeout:  timeout,
	}
}

// bindResult is what the platform callback deposits.
type bindResult struct {
	name    binder.ComponentName
	service binder.Binder
	err     error
}

// serviceConnection is registered with the platform for a single Connect.
type serviceConnection struct {
	slot *HandoffSlot[bindResult]
}

func (c *serviceConnection) OnServiceConnected(name binder.ComponentName, service binder.Binder) {
	if !c.slot.Put(bindResult{name: name, service: service}) {
		log.Debug().Str("component", name.String()).Msg("dropping duplicate service connection")
	}
}

func (c *serviceConnection) OnServiceDisconnected(name binder.ComponentName) {
	log.Debug().Str("component", name.String()).Msg("advertising id service disconnected")
}

func (c *serviceConnection) OnBindingDied(name binder.ComponentName) {
	c.slot.Put(bindResult{name: name, err: errBindingDied})
}

// Connection is a bound service. It must be closed exactly once; extra
// Close calls return the first result.
type Connection struct {
	Name    binder.ComponentName
	Service binder.Binder

	channel *ServiceChannel
	conn    *serviceConnection
	once    sync.Once
	err     error
}

// Close unbinds the service.
func (c *Connection) Close() error {
	c.once.Do(func() {
		c.err = c.channel.unbind(c.conn)
	})
	return c.err
}

// Connect binds the service and blocks until the platform delivers it.
//
// It fails with domain.ErrBindUnavailable when the platform refuses the bind
// or the binding dies, domain.ErrBindTimeout when the connection does not
// arrive in time, and domain.ErrFetchCancelled when ctx ends first. The
// binding is released on every failure after a successful bind.
func (s *ServiceChannel) Connect(ctx context.Context) (*Connection, error) {
	conn := &serviceConnection{slot: NewHandoffSlot[bindResult]()}

	if err := s.platform.BindService(s.intent, conn, s.flags); err != nil {
		return nil, domain.NewBindError(s.intent.Action, s.intent.Package, err)
	}

	waitCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := conn.slot.Take(waitCtx)
	if err != nil {
		_ = s.unbind(conn)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrFetchCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w after %s", domain.ErrBindTimeout, s.timeout)
	}
	if res.err != nil {
		_ = s.unbind(conn)
		return nil, domain.NewBindError(s.intent.Action, s.intent.Package, res.err)
	}

	log.Debug().
		Str("component", res.name.String()).
		Msg("advertising id service connected")

	return &Connection{
		Name:    res.name,
		Service: res.service,
		channel: s,
		conn:    conn,
	}, nil
}

// Disconnect releases c. It is equivalent to c.Close.
func (s *ServiceChannel) Disconnect(c *Connection) error {
	return c.Close()
}

func (s *ServiceChannel) unbind(conn *serviceConnection) error {
	if err := s.platform.UnbindService(conn); err != nil {
		log.Warn().
			Err(err).
			Str("intent", s.intent.String()).
			Msg("failed to unbind advertising id service")
		return err
	}
	return nil
}
