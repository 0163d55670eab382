package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/tlschat/internal/client"
)

const dialTimeout = 15 * time.Second

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s <server_address>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := newLogger()
	cfg := client.NewConfigFromEnv(flag.Arg(0))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := client.Connect(dialCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("failed to connect", "addr", cfg.Addr, "err", err)
		os.Exit(1)
	}

	fmt.Printf("Connected to %s. Type %s to leave.\n", cfg.Addr, client.QuitCommand)

	session := client.NewSession(conn, os.Stdout, logger)
	if err := session.Run(ctx, os.Stdin); err != nil {
		logger.Error("session ended", "err", err)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("CHAT_LOG_LEVEL"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
