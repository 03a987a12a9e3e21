// Package transport carries encoded binder frames between a proxy and the
// process hosting the service.
package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrTransportClosed is returned by Read and Write once either side closed.
var ErrTransportClosed = errors.New("transport is closed")

// Transport moves whole frames. Each Read yields exactly the bytes of one
// Write made by the peer; frames are never split or merged.
type Transport interface {
	// ID identifies the connection in logs and client maps.
	ID() string

	// Read blocks for the next frame from the peer.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame. Concurrent writers are serialized.
	Write(ctx context.Context, frame []byte) error

	// Close is idempotent. Pending and later Reads fail.
	Close() error

	// Done is closed together with the transport.
	Done() <-chan struct{}

	// Endpoint describes both ends of the connection.
	Endpoint() Endpoint
}

// Endpoint names the two ends of a transport.
type Endpoint struct {
	Kind   string
	Local  string
	Remote string
}

func newID() string {
	return uuid.NewString()
}
