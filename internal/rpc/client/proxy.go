// Package client implements binder proxies: local stand-ins for remote
// objects that forward transactions over a transport.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
	"github.com/brianly1003/adid/internal/rpc/message"
	"github.com/brianly1003/adid/internal/rpc/transport"
)

// DefaultHandshakeTimeout bounds the websocket handshake in Dial.
const DefaultHandshakeTimeout = 10 * time.Second

// Proxy is a binder.Binder backed by a remote object.
type Proxy struct {
	transport transport.Transport
	nextID    atomic.Uint64

	pending   map[uint64]chan *message.Frame
	pendingMu sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Dial connects to the binder host at url.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration, opts ...transport.WebSocketOption) (*Proxy, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	t, err := transport.Dial(ctx, url, handshakeTimeout, opts...)
	if err != nil {
		return nil, err
	}
	return NewProxy(t), nil
}

// NewProxy creates a proxy over t and starts reading replies.
func NewProxy(t transport.Transport) *Proxy {
	p := &Proxy{
		transport: t,
		pending:   make(map[uint64]chan *message.Frame),
		closeCh:   make(chan struct{}),
	}

	go p.readLoop()

	return p
}

// Transact implements binder.Binder. Oneway transactions return as soon as
// the frame is written and leave reply untouched.
func (p *Proxy) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	id := p.nextID.Add(1)
	frame, err := message.NewTransaction(id, code, flags, data.Bytes()).MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	if flags&binder.FlagOneway != 0 {
		if p.dead() {
			return binder.ErrDeadObject
		}
		if err := p.transport.Write(ctx, frame); err != nil {
			return fmt.Errorf("%w: %v", binder.ErrDeadObject, err)
		}
		return nil
	}

	respCh := make(chan *message.Frame, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	// registered after shutdown swept the pending map
	if p.dead() {
		p.forget(id)
		return binder.ErrDeadObject
	}

	if err := p.transport.Write(ctx, frame); err != nil {
		p.forget(id)
		return fmt.Errorf("%w: %v", binder.ErrDeadObject, err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return binder.ErrDeadObject
		}
		if err := resp.Status.Err(); err != nil {
			return err
		}
		reply.SetBytes(resp.Payload)
		return nil
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	}
}

func (p *Proxy) dead() bool {
	select {
	case <-p.closeCh:
		return true
	default:
		return false
	}
}

func (p *Proxy) forget(id uint64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

// readLoop routes replies to waiting callers until the transport fails.
func (p *Proxy) readLoop() {
	defer p.shutdown()

	for {
		data, err := p.transport.Read(context.Background())
		if err != nil {
			if !errors.Is(err, transport.ErrTransportClosed) {
				log.Debug().Err(err).Msg("binder proxy read loop ended")
			}
			return
		}

		frame, err := message.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed reply frame")
			continue
		}
		if frame.Kind != message.KindReply {
			log.Warn().Str("kind", frame.Kind.String()).Msg("proxy received non-reply frame")
			continue
		}

		p.pendingMu.Lock()
		ch, ok := p.pending[frame.TxID]
		delete(p.pending, frame.TxID)
		p.pendingMu.Unlock()

		if ok {
			ch <- frame
		}
	}
}

// shutdown fails every pending call and marks the proxy dead.
func (p *Proxy) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
	})

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// Close closes the underlying transport. Pending calls fail with
// binder.ErrDeadObject.
func (p *Proxy) Close() error {
	err := p.transport.Close()
	p.shutdown()
	return err
}

// Done returns a channel closed once the proxy is dead.
func (p *Proxy) Done() <-chan struct{} {
	return p.closeCh
}

// Ensure Proxy implements binder.Binder.
var _ binder.Binder = (*Proxy)(nil)
