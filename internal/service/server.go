package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/rpc"
	"github.com/brianly1003/adid/internal/rpc/transport"
)

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// binder callers are not browsers
		return true
	},
}

// ServerConfig configures the provider host.
type ServerConfig struct {
	Host           string
	Port           int
	RateLimit      float64
	Burst          int
	MaxMessageSize int64
}

// Server exposes a Stub over websocket together with health, metrics and a
// small identity admin API.
type Server struct {
	addr       string
	store      *Store
	metrics    *Metrics
	rpcServer  *rpc.Server
	router     *mux.Router
	httpServer *http.Server

	maxMessageSize int64
	startTime      time.Time
}

// NewServer creates a provider host backed by store.
func NewServer(cfg ServerConfig, store *Store, stub *Stub) *Server {
	metrics := NewMetrics()

	s := &Server{
		addr:           net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		store:          store,
		metrics:        metrics,
		maxMessageSize: cfg.MaxMessageSize,
		startTime:      time.Now(),
	}
	s.rpcServer = rpc.NewServer(stub,
		rpc.WithRateLimit(cfg.RateLimit, cfg.Burst),
		rpc.WithObserver(metrics.ObserveTransaction),
	)

	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/identity", s.handleGetIdentity).Methods("GET")
	api.HandleFunc("/identity/reset", s.handleResetIdentity).Methods("POST")
	api.HandleFunc("/identity/limit-tracking", s.handleSetLimitTracking).Methods("PUT")

	router.HandleFunc("/binder", s.handleBinder)

	s.router = router
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("advertising id service listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("stopping advertising id service")

	// hijacked websocket connections are not tracked by Shutdown
	if err := s.rpcServer.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping binder host")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleBinder upgrades to websocket and hosts the stub on the connection.
func (s *Server) handleBinder(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade binder connection")
		return
	}

	var opts []transport.WebSocketOption
	if s.maxMessageSize > 0 {
		opts = append(opts, transport.WithMaxMessageSize(s.maxMessageSize))
	}
	wsTransport := transport.NewWebSocketTransport(conn, opts...)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	log.Info().
		Str("client_id", wsTransport.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("binder client connected")

	if err := s.rpcServer.ServeTransport(context.Background(), wsTransport); err != nil {
		log.Debug().Str("client_id", wsTransport.ID()).Err(err).Msg("binder connection ended")
	}
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        "adid",
		"clients":        s.rpcServer.ClientCount(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleGetIdentity handles GET /api/identity
func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := s.store.Current(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// handleResetIdentity handles POST /api/identity/reset
func (s *Server) handleResetIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := s.store.Reset(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// handleSetLimitTracking handles PUT /api/identity/limit-tracking
func (s *Server) handleSetLimitTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	ident, err := s.store.SetLimitTracking(r.Context(), *req.Enabled)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
