package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/session-coordinator/internal/config"
	httpapi "github.com/example/session-coordinator/internal/http"
	"github.com/example/session-coordinator/internal/journal"
	"github.com/example/session-coordinator/internal/logging"
	"github.com/example/session-coordinator/internal/protocol"
	"github.com/example/session-coordinator/internal/transport/ws"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := openBackends(ctx, cfg, logger)
	defer b.close(logger)

	jr := journal.New(b.sink, cfg.JournalBuffer, logger)
	hub := ws.NewHub(nil, logger, ws.Options{
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		PongWait:        cfg.WSPongWait,
	})
	eng := protocol.New(protocol.NewState(nil), protocol.Config{
		Router:    hub,
		Journal:   jr,
		Logger:    logger,
		QueueSize: cfg.EngineQueueSize,
	})
	hub.SetEngine(eng)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	journalDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = eng.Run(engineCtx)
	}()
	go func() {
		defer close(journalDone)
		jr.Run(engineCtx)
	}()

	api := httpapi.NewServer(httpapi.Deps{
		Engine:      eng,
		WS:          hub,
		History:     b.history,
		Checks:      b.checks,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("session coordinator listening", "addr", cfg.HTTPAddr, "sink", b.name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// hijacked websocket connections are not covered by Shutdown
	hub.Close()

	stopEngine()
	<-engineDone
	<-journalDone
	logger.Info("stopped")
}
