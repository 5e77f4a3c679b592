package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/syncpad/relay/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	setupLogger()

	cfg, err := relay.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	os.Exit(run(cfg))
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(cfg *relay.Config) (exitCode int) {
	engine := relay.NewEngine(cfg, slog.Default())
	server := relay.CreateServer(cfg.ListenAddr, engine.Routes())

	// An uncaught fault takes the same graceful-shutdown path as a
	// termination signal so the listener is never left dangling.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unrecovered fault, shutting down", "panic", r)
			exitCode = 1
		}
		_ = relay.ShutdownServer(server, cfg.ShutdownGrace)
		if err := engine.Shutdown(cfg.ShutdownGrace); err != nil {
			slog.Warn("engine shutdown incomplete", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- relay.StartServer(server)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			return 1
		}
	}
	return 0
}
