// Package binder defines the IPC substrate used to reach out-of-process
// services: remote objects that accept transactions, and a platform context
// that discovers, binds and unbinds them.
package binder

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianly1003/adid/internal/binder/parcel"
)

// Transaction codes and flags.
const (
	// FirstCallTransaction is the first code available to user contracts.
	FirstCallTransaction uint32 = 1
	// LastCallTransaction is the last code available to user contracts.
	LastCallTransaction uint32 = 0x00ffffff

	// FlagOneway marks a transaction that does not wait for a reply.
	FlagOneway uint32 = 0x01
)

// Bind flags.
const (
	// BindAutoCreate creates the service if it is not already running.
	BindAutoCreate = 0x0001
)

// Substrate errors.
var (
	ErrPackageNotFound      = errors.New("package not found")
	ErrServiceNotFound      = errors.New("no service matches intent")
	ErrServiceNotRegistered = errors.New("service not registered")
	ErrDeadObject           = errors.New("remote object is dead")
	ErrUnknownTransaction   = errors.New("unknown transaction code")
	ErrFailedTransaction    = errors.New("transaction failed")
)

// Binder is a remote object that accepts transactions.
//
// Transact sends data with the given code and, unless FlagOneway is set,
// fills reply with the remote result. Implementations must not retain data or
// reply after returning.
type Binder interface {
	Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error
}

// TransactFunc adapts a function to the Binder interface.
type TransactFunc func(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error

// Transact calls f.
func (f TransactFunc) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	return f(ctx, code, data, reply, flags)
}

// Intent describes the service to bind.
type Intent struct {
	Action  string
	Package string
}

func (i Intent) String() string {
	return fmt.Sprintf("%s (pkg=%s)", i.Action, i.Package)
}

// ComponentName identifies a concrete service implementation.
type ComponentName struct {
	Package string
	Class   string
}

func (c ComponentName) String() string {
	return c.Package + "/" + c.Class
}

// PackageInfo describes an installed package.
type PackageInfo struct {
	Name        string
	VersionName string
}

// ServiceConnection receives binding lifecycle callbacks. The platform may
// invoke them on any goroutine.
type ServiceConnection interface {
	// OnServiceConnected delivers the bound remote object.
	OnServiceConnected(name ComponentName, service Binder)
	// OnServiceDisconnected reports that a connected service went away.
	OnServiceDisconnected(name ComponentName)
	// OnBindingDied reports that the binding can never connect.
	OnBindingDied(name ComponentName)
}

// Context is the platform surface needed to discover and bind services.
type Context interface {
	// PackageInfo returns ErrPackageNotFound if name is not installed.
	PackageInfo(name string) (PackageInfo, error)

	// BindService starts binding intent and returns without waiting for the
	// connection. A nil error means callbacks will follow on conn.
	BindService(intent Intent, conn ServiceConnection, flags int) error

	// UnbindService releases the binding held by conn.
	UnbindService(conn ServiceConnection) error
}
