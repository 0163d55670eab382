package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/tlschat/internal/securechan"
	"github.com/Tyrowin/tlschat/internal/server"
)

func main() {
	fmt.Println("Starting tlschat relay...")

	logger := newLogger()

	config := server.NewConfigFromEnv()

	tlsConfig, err := securechan.LoadServerConfig(config.CertFile, config.KeyFile)
	if err != nil {
		logger.Error("failed to load server certificate", "err", err)
		os.Exit(1)
	}

	srv := server.New(config, tlsConfig, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Server listening on %s\n", config.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "err", err)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("CHAT_LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
