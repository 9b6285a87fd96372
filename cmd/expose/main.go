package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dij0s/eXPOSE/internal/api"
	"github.com/dij0s/eXPOSE/internal/auth"
	"github.com/dij0s/eXPOSE/internal/config"
	"github.com/dij0s/eXPOSE/internal/health"
	"github.com/dij0s/eXPOSE/internal/logging"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/dij0s/eXPOSE/internal/notify"
	"github.com/dij0s/eXPOSE/internal/penalty"
	"github.com/dij0s/eXPOSE/internal/session"
	"github.com/dij0s/eXPOSE/internal/storage"
	"github.com/dij0s/eXPOSE/internal/transport"
	"github.com/dij0s/eXPOSE/internal/websocket"
	"github.com/dij0s/eXPOSE/pkg/client"
	"github.com/dij0s/eXPOSE/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		port          = flag.String("port", "", "HTTP port (overrides PORT)")
		logLevel      = flag.String("log-level", "", "Log level (overrides LOG_LEVEL)")
		transportKind = flag.String("transport", "", "Upstream transport: websocket or mqtt (overrides STREAM_TRANSPORT)")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *transportKind != "" {
		cfg.StreamTransport = *transportKind
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Service: "expose",
		File:    cfg.LogFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}
	defer logCloser.Close()

	logger.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("transport", cfg.StreamTransport).
		Strs("known_agents", cfg.KnownAgents).
		Msg("starting eXPOSE dashboard")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer, err := newDialer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure upstream transport")
	}

	// Presentation hub
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	// Streaming engine
	sess := session.New(dialer, session.Options{
		KnownAgents: cfg.KnownAgents,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Broadcaster: hub,
	}, logger)
	hub.OnConnect(sess.Aggregator().Snapshot)
	hub.OnMessage(func(clientID string, message []byte) {
		// Commands from the browser are relayed upstream, fire and forget
		if !sess.Send(json.RawMessage(message)) {
			logger.Warn().Str("client_id", clientID).Msg("dashboard command not delivered upstream")
		}
	})
	sess.Start(ctx)

	// Fleet collaborators
	fleet := client.NewClient(cfg.APIBaseURL, client.WithToken(cfg.APIToken))
	notices := notify.NewCenter(nil, notify.DefaultTTL)

	var penaltyStore storage.Store = storage.NewNoopStore()
	if cfg.PenaltyFile != "" {
		fileStore, err := storage.NewFileStore(cfg.PenaltyFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open penalty file")
		}
		penaltyStore = fileStore
	}
	penalties, err := penalty.NewCounter(penaltyStore, cfg.KnownAgents, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load penalties")
	}
	banner := penalty.NewBanner(fleet, notices, nil, logger)

	poller := health.NewPoller(fleet, nil, cfg.HealthInterval, func(r health.Report) {
		if r.Healthy {
			notices.Add(notify.SeverityInfo, "Fleet backend reachable")
			return
		}
		notices.Add(notify.SeverityWarning, "Fleet backend unreachable: %s", r.LastError)
	}, logger)
	go poller.Start(ctx)

	authenticator, err := auth.New(ctx, auth.Config{JWKSURL: cfg.JWKSURL, SkipAuth: cfg.SkipAuth}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure authentication")
	}

	routes := api.Routes{
		Dashboard: api.NewDashboardHandler(sess, logger),
		Fleet:     api.NewFleetHandler(penalties, banner, notices, poller, logger),
		Auth:      authenticator,
		WS:        websocket.NewHandler(hub, cfg, logger),
		Metrics:   metrics.Get().Handler(),
	}
	if cfg.SimControlURL != "" {
		routes.Sim = api.NewSimulatorHandler(client.NewClient(cfg.SimControlURL), logger)
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	api.Register(r, routes)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Detach the stream first so shutdown never schedules a reconnect
	if err := sess.Close(); err != nil {
		logger.Warn().Err(err).Msg("stream close")
	}
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// newDialer picks the upstream transport
func newDialer(cfg *config.Config) (transport.Dialer, error) {
	switch cfg.StreamTransport {
	case config.TransportWebSocket:
		return transport.NewWebSocketDialer(cfg.StreamURL(), cfg.WSWriteTimeout), nil
	case config.TransportMQTT:
		return transport.NewMQTTDialer(cfg.MQTTBroker, cfg.MQTTTopic, "expose-"+uuid.NewString()[:8]), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.StreamTransport)
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"expose"}`)
}
