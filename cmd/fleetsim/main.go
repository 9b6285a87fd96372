package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dij0s/eXPOSE/internal/config"
	"github.com/dij0s/eXPOSE/internal/fleetsim"
	"github.com/dij0s/eXPOSE/internal/logging"
	"github.com/dij0s/eXPOSE/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		port         = flag.String("port", "3000", "Stream and API port")
		agentCount   = flag.Int("agents", 5, "Number of robots to generate")
		seed         = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
		token        = flag.String("token", "", "Bearer token required by /api/ban (empty disables the check)")
		origins      = flag.String("allowed-origins", "*", "Comma separated websocket origins")
		stepInterval = flag.Duration("step", time.Second, "Interval between simulation steps")
		missionSteps = flag.Int("mission-steps", 120, "Steps before global_end is sent")
		banTimeout   = flag.Duration("ban-timeout", 30*time.Second, "How long a banned robot stays off")
		autoStart    = flag.Bool("auto-start", false, "Automatically start a mission")
		legacy       = flag.Bool("legacy-status", false, "Publish state_update with a JSON encoded body")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger, logCloser, err := logging.New(logging.Options{
		Level:   *logLevel,
		Service: "fleetsim",
		Console: os.Stdout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}
	defer logCloser.Close()

	logger.Info().Msg("starting fleet simulator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	agents := fleetsim.NewGenerator(*seed).GenerateAgents(*agentCount)
	logger.Info().Strs("agents", agents).Msg("robots generated")

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sim := fleetsim.NewSimulator(hub, fleetsim.Options{
		Agents:       agents,
		Seed:         *seed,
		StepInterval: *stepInterval,
		MissionSteps: *missionSteps,
		BanTimeout:   *banTimeout,
		LegacyStatus: *legacy,
	}, logger)

	// Late joiners get the fleet roster first
	hub.OnConnect(func() [][]byte { return [][]byte{sim.InitialStates()} })
	hub.OnMessage(sim.HandleCommand)

	cfg := &config.Config{
		AllowedOrigins: strings.Split(*origins, ","),
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	}
	server := fleetsim.NewServer(ctx, sim, hub, websocket.NewHandler(hub, cfg, logger), *token, logger)

	srv := &http.Server{
		Addr:        ":" + *port,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	if *autoStart {
		logger.Info().Msg("auto-starting mission")
		if err := sim.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to auto-start mission")
		}
	}

	logger.Info().
		Str("stream", fmt.Sprintf("ws://localhost:%s/ws", *port)).
		Str("control_api", fmt.Sprintf("http://localhost:%s/control", *port)).
		Msg("fleet simulator ready")

	printUsage(*port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down fleet simulator")
	_ = sim.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
}

func printUsage(port string) {
	fmt.Println()
	fmt.Println("Fleet simulator endpoints:")
	fmt.Printf("  WS   ws://localhost:%s/ws              - Event stream\n", port)
	fmt.Printf("  GET  http://localhost:%s/api/status    - Fleet API health\n", port)
	fmt.Printf("  POST http://localhost:%s/api/ban       - Ban a robot\n", port)
	fmt.Printf("  GET  http://localhost:%s/control/status - Mission status\n", port)
	fmt.Printf("  POST http://localhost:%s/control/start  - Start a mission\n", port)
	fmt.Printf("  POST http://localhost:%s/control/stop   - Stop the mission\n", port)
	fmt.Printf("  POST http://localhost:%s/control/step   - Advance one step\n", port)
	fmt.Printf("  GET  http://localhost:%s/control/robots - Robot roster\n", port)
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  curl -X POST http://localhost:%s/control/start\n", port)
	fmt.Printf("  curl -X POST http://localhost:%s/api/ban -d '{\"agent\":\"calibration_agent@prosody\"}'\n", port)
	fmt.Println()
}
