package transport

import (
	"context"
	"sync"
)

// PipeTransport is one end of an in-process transport pair. Messages written
// on one end are read, in order, from the other.
type PipeTransport struct {
	id   string
	in   <-chan []byte
	out  chan<- []byte
	peer *PipeTransport

	done chan struct{}
	once sync.Once
}

// Pipe returns two connected in-process transports. Closing either end
// closes both.
func Pipe() (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)

	a := &PipeTransport{id: newID(), in: ba, out: ab, done: make(chan struct{})}
	b := &PipeTransport{id: newID(), in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// ID returns the unique identifier for this end.
func (p *PipeTransport) ID() string {
	return p.id
}

// Read returns the next message written by the peer.
func (p *PipeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write hands a copy of data to the peer.
func (p *PipeTransport) Write(ctx context.Context, data []byte) error {
	msg := append([]byte(nil), data...)
	select {
	case <-p.done:
		return ErrTransportClosed
	default:
	}

	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (p *PipeTransport) Close() error {
	p.closeOne()
	p.peer.closeOne()
	return nil
}

func (p *PipeTransport) closeOne() {
	p.once.Do(func() {
		close(p.done)
	})
}

// Done returns a channel that's closed when the pipe is closed.
func (p *PipeTransport) Done() <-chan struct{} {
	return p.done
}

// Endpoint names both ends after their ids.
func (p *PipeTransport) Endpoint() Endpoint {
	return Endpoint{Kind: "pipe", Local: p.id, Remote: p.peer.id}
}
