// Package testutil provides shared test utilities and fakes for adid tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
)

// ConnectMode controls how FakePlatform delivers connection callbacks.
type ConnectMode int

const (
	// ConnectAsync calls OnServiceConnected from a new goroutine.
	ConnectAsync ConnectMode = iota
	// ConnectSync calls OnServiceConnected before BindService returns.
	ConnectSync
	// ConnectNever never calls back.
	ConnectNever
	// ConnectDies calls OnBindingDied from a new goroutine.
	ConnectDies
)

// FakeComponent is the component name reported by FakePlatform.
var FakeComponent = binder.ComponentName{
	Package: "com.google.android.gms",
	Class:   "com.google.android.gms.ads.identifier.service.AdvertisingIdService",
}

// FakePlatform implements binder.Context and counts bind/unbind pairs.
type FakePlatform struct {
	mu       sync.Mutex
	packages map[string]bool
	bindErr  error
	mode     ConnectMode
	delay    time.Duration
	factory  func() binder.Binder

	binds   int
	unbinds int
	active  map[binder.ServiceConnection]bool
	intents []binder.Intent
}

// NewFakePlatform creates a platform with the given packages installed whose
// bindings all connect to service.
func NewFakePlatform(service binder.Binder, packages ...string) *FakePlatform {
	p := &FakePlatform{
		packages: make(map[string]bool),
		active:   make(map[binder.ServiceConnection]bool),
		factory:  func() binder.Binder { return service },
	}
	for _, pkg := range packages {
		p.packages[pkg] = true
	}
	return p
}

// SetServiceFactory makes every binding connect to a fresh service.
func (p *FakePlatform) SetServiceFactory(fn func() binder.Binder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = fn
}

// SetBindError makes BindService fail with err.
func (p *FakePlatform) SetBindError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindErr = err
}

// SetMode sets how connections are delivered.
func (p *FakePlatform) SetMode(mode ConnectMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

// SetDelay delays asynchronous callbacks.
func (p *FakePlatform) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// PackageInfo implements binder.Context.
func (p *FakePlatform) PackageInfo(name string) (binder.PackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.packages[name] {
		return binder.PackageInfo{}, binder.ErrPackageNotFound
	}
	return binder.PackageInfo{Name: name, VersionName: "test"}, nil
}

// BindService implements binder.Context.
func (p *FakePlatform) BindService(intent binder.Intent, conn binder.ServiceConnection, flags int) error {
	p.mu.Lock()
	p.intents = append(p.intents, intent)
	if p.bindErr != nil {
		err := p.bindErr
		p.mu.Unlock()
		return err
	}
	p.binds++
	p.active[conn] = true
	mode, delay := p.mode, p.delay
	service := p.factory()
	p.mu.Unlock()

	switch mode {
	case ConnectSync:
		conn.OnServiceConnected(FakeComponent, service)
	case ConnectAsync:
		go func() {
			time.Sleep(delay)
			conn.OnServiceConnected(FakeComponent, service)
		}()
	case ConnectDies:
		go func() {
			time.Sleep(delay)
			conn.OnBindingDied(FakeComponent)
		}()
	}
	return nil
}

// UnbindService implements binder.Context.
func (p *FakePlatform) UnbindService(conn binder.ServiceConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active[conn] {
		return binder.ErrServiceNotRegistered
	}
	delete(p.active, conn)
	p.unbinds++
	return nil
}

// BindCount returns the number of successful BindService calls.
func (p *FakePlatform) BindCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binds
}

// UnbindCount returns the number of successful UnbindService calls.
func (p *FakePlatform) UnbindCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unbinds
}

// ActiveCount returns the number of bindings not yet released.
func (p *FakePlatform) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// BindAttempts returns every intent passed to BindService, including refused
// ones.
func (p *FakePlatform) BindAttempts() []binder.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]binder.Intent, len(p.intents))
	copy(result, p.intents)
	return result
}

// Ensure FakePlatform implements binder.Context.
var _ binder.Context = (*FakePlatform)(nil)

// ErrFakeTransport is returned by FakeAdService when FailTransact is set.
var ErrFakeTransport = errors.New("fake transport failure")

// Call records one transaction received by FakeAdService.
type Call struct {
	Code  uint32
	Token string
	Hint  bool
}

// FakeAdService implements the advertising id contract in memory.
type FakeAdService struct {
	mu sync.Mutex

	Token         string
	ID            string
	NullID        bool
	LimitTracking bool

	// Exception, when non-zero, is written as the reply header of every call.
	Exception int32
	// FailTransact makes Transact fail with ErrFakeTransport.
	FailTransact bool
	// Block makes Transact wait for ctx to end.
	Block bool

	calls []Call
}

// NewFakeAdService creates a service answering with id.
func NewFakeAdService(token, id string, limitTracking bool) *FakeAdService {
	return &FakeAdService{Token: token, ID: id, LimitTracking: limitTracking}
}

// Transact implements binder.Binder.
func (s *FakeAdService) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Code: code}
	if err := data.EnforceInterface(s.Token); err != nil {
		s.calls = append(s.calls, call)
		reply.WriteException(parcel.ExSecurity, err.Error())
		return nil
	}
	call.Token = s.Token

	if code == binder.FirstCallTransaction+1 {
		hint, err := data.ReadBool()
		if err != nil {
			return err
		}
		call.Hint = hint
	}
	s.calls = append(s.calls, call)

	if s.Block {
		s.mu.Unlock()
		<-ctx.Done()
		s.mu.Lock()
		return ctx.Err()
	}
	if s.FailTransact {
		return ErrFakeTransport
	}
	if s.Exception != 0 {
		reply.WriteException(s.Exception, "fake exception")
		return nil
	}

	switch code {
	case binder.FirstCallTransaction:
		reply.WriteNoException()
		if s.NullID {
			reply.WriteNullString16()
		} else {
			reply.WriteString16(s.ID)
		}
	case binder.FirstCallTransaction + 1:
		reply.WriteNoException()
		reply.WriteBool(s.LimitTracking)
	default:
		return binder.ErrUnknownTransaction
	}
	return nil
}

// Calls returns the recorded transactions in order.
func (s *FakeAdService) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Call, len(s.calls))
	copy(result, s.calls)
	return result
}

// Ensure FakeAdService implements binder.Binder.
var _ binder.Binder = (*FakeAdService)(nil)
