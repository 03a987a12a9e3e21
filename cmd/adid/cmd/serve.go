package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/adid/internal/service"
)

var (
	serveHost string
	servePort int
)

// serveCmd runs the advertising id provider.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the advertising id provider",
	Long: `Run a provider that answers the advertising id contract over websocket.

The identity is stored in SQLite at service.db_path and generated on first
use. Routes:
  /binder                          binder transactions (websocket)
  /healthz                         health check
  /metrics                         prometheus metrics
  /api/identity                    current identity (GET)
  /api/identity/reset              new identifier (POST)
  /api/identity/limit-tracking     set preference (PUT {"enabled": bool})`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides service.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides service.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	if serveHost != "" {
		cfg.Service.Host = serveHost
	}
	if servePort != 0 {
		cfg.Service.Port = servePort
	}

	store, err := service.OpenStore(cfg.Service.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	server := service.NewServer(service.ServerConfig{
		Host:           cfg.Service.Host,
		Port:           cfg.Service.Port,
		RateLimit:      cfg.Service.RateLimit,
		Burst:          cfg.Service.Burst,
		MaxMessageSize: int64(cfg.Binder.MaxMessageKB) * 1024,
	}, store, service.NewStub(store, cfg.Provider.InterfaceToken))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", server.Addr()).
		Str("db", store.Path()).
		Msg("starting adid provider")

	if err := server.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("adid provider stopped")
	return nil
}
