// Package rpc hosts a binder object for remote callers over a transport.
package rpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
	"github.com/brianly1003/adid/internal/rpc/message"
	"github.com/brianly1003/adid/internal/rpc/transport"
)

// Observer is notified after every transaction handled by the server.
type Observer func(code uint32, status message.Status, elapsed time.Duration)

// Server dispatches incoming transactions to a binder stub.
type Server struct {
	stub     binder.Binder
	limit    rate.Limit
	burst    int
	observer Observer

	// connected proxies by transport id
	clients   map[string]*Client
	clientsMu sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimit throttles each connection to r transactions per second with
// the given burst. A zero rate disables throttling.
func WithRateLimit(r float64, burst int) ServerOption {
	return func(s *Server) {
		if r <= 0 {
			s.limit = rate.Inf
			return
		}
		s.limit = rate.Limit(r)
		s.burst = burst
	}
}

// WithObserver registers a per-transaction observer.
func WithObserver(o Observer) ServerOption {
	return func(s *Server) {
		s.observer = o
	}
}

// NewServer creates a server hosting stub.
func NewServer(stub binder.Binder, opts ...ServerOption) *Server {
	s := &Server{
		stub:    stub,
		limit:   rate.Inf,
		burst:   1,
		clients: make(map[string]*Client),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.burst < 1 {
		s.burst = 1
	}
	return s
}

// ServeTransport hosts the stub for one proxy connection.
// It returns once the transport closes or ctx ends.
func (s *Server) ServeTransport(ctx context.Context, t transport.Transport) error {
	client := NewClient(t, s)

	s.clientsMu.Lock()
	s.clients[t.ID()] = client
	s.clientsMu.Unlock()

	ep := t.Endpoint()
	log.Debug().
		Str("client_id", t.ID()).
		Str("transport", ep.Kind).
		Str("remote", ep.Remote).
		Msg("binder client connected")

	err := client.Serve(ctx)

	s.clientsMu.Lock()
	delete(s.clients, t.ID())
	s.clientsMu.Unlock()
	_ = client.Close()

	log.Debug().
		Str("client_id", t.ID()).
		Err(err).
		Msg("binder client disconnected")

	return err
}

// Stop closes every connected client.
func (s *Server) Stop() error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for _, client := range s.clients {
		_ = client.Close()
	}
	s.clients = make(map[string]*Client)

	return nil
}

// ClientCount reports how many proxies are connected.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Client represents a connected binder caller.
type Client struct {
	transport transport.Transport
	server    *Server
	limiter   *rate.Limiter

	// send is a buffered channel for outgoing frames
	send chan []byte

	done   chan struct{}
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewClient creates a client for t served by s.
func NewClient(t transport.Transport, s *Server) *Client {
	return &Client{
		transport: t,
		server:    s,
		limiter:   rate.NewLimiter(s.limit, s.burst),
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// ID is the transport id.
func (c *Client) ID() string {
	return c.transport.ID()
}

// Serve runs the read and write loops until the proxy goes away.
func (c *Client) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)

	err := c.readLoop(ctx)
	cancel()
	c.wg.Wait()
	return err
}

// readLoop reads frames and dispatches transactions.
func (c *Client) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.transport.Done():
			return nil
		default:
		}

		data, err := c.transport.Read(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrTransportClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		frame, err := message.Decode(data)
		if err != nil {
			log.Warn().
				Str("client_id", c.ID()).
				Err(err).
				Msg("dropping malformed frame")
			continue
		}
		if frame.Kind != message.KindTransaction {
			continue
		}

		c.wg.Add(1)
		go c.handleTransaction(ctx, frame)
	}
}

// handleTransaction runs one transaction against the stub and queues the
// reply unless the call is oneway.
func (c *Client) handleTransaction(ctx context.Context, frame *message.Frame) {
	defer c.wg.Done()

	start := time.Now()
	status, payload := c.dispatch(ctx, frame)

	if obs := c.server.observer; obs != nil {
		obs(frame.Code, status, time.Since(start))
	}

	if frame.Flags&binder.FlagOneway != 0 {
		return
	}

	out, err := message.NewReply(frame.TxID, status, payload).MarshalBinary()
	if err != nil {
		log.Warn().Str("client_id", c.ID()).Err(err).Msg("failed to encode reply")
		return
	}
	if err := c.Send(out); err != nil {
		log.Warn().
			Str("client_id", c.ID()).
			Err(err).
			Msg("failed to send reply")
	}
}

func (c *Client) dispatch(ctx context.Context, frame *message.Frame) (message.Status, []byte) {
	if !c.limiter.Allow() {
		return message.StatusRateLimited, nil
	}

	data := parcel.FromBytes(frame.Payload)
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()

	if err := c.server.stub.Transact(ctx, frame.Code, data, reply, frame.Flags); err != nil {
		log.Debug().
			Str("client_id", c.ID()).
			Uint32("code", frame.Code).
			Err(err).
			Msg("transaction failed")
		return message.StatusFromError(err), nil
	}

	// reply is recycled on return; hand out a copy
	return message.StatusOK, append([]byte(nil), reply.Bytes()...)
}

// writeLoop sends frames to the transport.
func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.transport.Write(ctx, data); err != nil {
				log.Warn().
					Str("client_id", c.ID()).
					Err(err).
					Msg("failed to write reply frame")
				return
			}
		}
	}
}

// Send queues a frame for sending.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close stops the loops and closes the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.transport.Close()
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
