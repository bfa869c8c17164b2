package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/pusherd/pusherd/internal/monitoring"
	"github.com/pusherd/pusherd/internal/platform"
	"github.com/pusherd/pusherd/internal/pusher"
	"github.com/pusherd/pusherd/internal/server"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Basic logger for startup, before the structured logger exists.
	startupLog := log.New(os.Stdout, "[pusherd] ", log.LstdFlags)

	// automaxprocs sets GOMAXPROCS from container CPU limits.
	startupLog.Printf("GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	cfg, err := platform.LoadConfig(nil)
	if err != nil {
		startupLog.Fatalf("Failed to load configuration: %v", err)
	}

	if *debug {
		cfg.LogLevel = "debug"
		startupLog.Printf("Debug mode enabled via flag")
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  monitoring.LogLevel(cfg.LogLevel),
		Format: monitoring.LogFormat(cfg.LogFormat),
	})
	cfg.LogConfig(logger)

	opts := []pusher.AppOption{
		pusher.WithClientMessagesEnabled(cfg.ClientMessagesEnabled),
	}
	if cfg.AppName != "" {
		opts = append(opts, pusher.WithName(cfg.AppName))
	}
	app := pusher.NewApp(cfg.AppID, cfg.AppKey, cfg.AppSecret, logger, opts...)
	apps := pusher.NewAppRegistry(app)

	srv := server.NewServer(cfg, apps, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down server")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
}
