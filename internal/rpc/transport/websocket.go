package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxMessageSize bounds one incoming frame.
	DefaultMaxMessageSize = 512 * 1024

	// DefaultKeepalive is the ping interval. A peer silent for three
	// intervals is treated as gone.
	DefaultKeepalive = 20 * time.Second

	writeWait = 10 * time.Second
)

type wsConfig struct {
	maxMessageSize int64
	keepalive      time.Duration
}

// WebSocketOption tunes a websocket transport.
type WebSocketOption func(*wsConfig)

// WithMaxMessageSize limits incoming frames to n bytes.
func WithMaxMessageSize(n int64) WebSocketOption {
	return func(c *wsConfig) {
		if n > 0 {
			c.maxMessageSize = n
		}
	}
}

// WithKeepalive sets the ping interval.
func WithKeepalive(d time.Duration) WebSocketOption {
	return func(c *wsConfig) {
		if d > 0 {
			c.keepalive = d
		}
	}
}

// WebSocketTransport sends each frame as one binary websocket message.
type WebSocketTransport struct {
	id   string
	conn *websocket.Conn
	cfg  wsConfig

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(conn *websocket.Conn, opts ...WebSocketOption) *WebSocketTransport {
	cfg := wsConfig{
		maxMessageSize: DefaultMaxMessageSize,
		keepalive:      DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &WebSocketTransport{
		id:   newID(),
		conn: conn,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(cfg.maxMessageSize)
	_ = conn.SetReadDeadline(t.idleDeadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(t.idleDeadline())
	})

	go t.keepalive()
	return t
}

// Dial opens a websocket to url. handshakeTimeout bounds the upgrade.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration, opts ...WebSocketOption) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketTransport(conn, opts...), nil
}

func (t *WebSocketTransport) idleDeadline() time.Time {
	return time.Now().Add(3 * t.cfg.keepalive)
}

// keepalive pings the peer. Control frames may be written concurrently
// with data frames.
func (t *WebSocketTransport) keepalive() {
	ticker := time.NewTicker(t.cfg.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Str("transport_id", t.id).Err(err).Msg("keepalive ping failed")
				_ = t.Close()
				return
			}
		}
	}
}

// ID returns the transport id.
func (t *WebSocketTransport) ID() string {
	return t.id
}

// Read returns the next binary message. Text messages are ignored. The
// read deadline is driven by keepalive, so ctx is only checked between
// messages.
func (t *WebSocketTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-t.done:
			return nil, ErrTransportClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return nil, ErrTransportClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			log.Debug().Str("transport_id", t.id).Int("type", kind).Msg("ignoring non-binary message")
			continue
		}
		return data, nil
	}
}

// Write sends frame as one binary message.
func (t *WebSocketTransport) Write(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close message and drops the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

// Done is closed when the transport closes.
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Endpoint reports the socket addresses.
func (t *WebSocketTransport) Endpoint() Endpoint {
	return Endpoint{
		Kind:   "websocket",
		Local:  t.conn.LocalAddr().String(),
		Remote: t.conn.RemoteAddr().String(),
	}
}
