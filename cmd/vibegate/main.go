package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// flushGrace is how long a fatal exit waits for the final log write.
const flushGrace = 250 * time.Millisecond

func main() {
	application := initializeServer()
	defer func() { _ = logger.Sync() }()

	router := setupRoutes(application)

	// Wrap the router with h2c to support HTTP/2 over cleartext
	handler := h2c.NewHandler(router, &http2.Server{})

	server := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the timeout guard governs response deadlines
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("vibegate starting",
		zap.String("port", config.Port),
		zap.Bool("tls", config.EnableTLS),
		zap.Bool("development", config.Development),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- startServer(server) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalExit("server failed", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		application.throttle.Close()
		application.conns.Close()
	}
}

// fatalExit logs the fatal error with full detail, flushes the logger, and
// terminates after a short grace period so the log write can complete.
func fatalExit(msg string, err error) {
	logger.Error(msg, zap.Error(err))
	_ = logger.Sync()
	time.Sleep(flushGrace)
	os.Exit(1)
}
