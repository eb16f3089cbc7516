package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"arenad/api"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("unknown log-level %q", s)
	}
	return level, nil
}

func setupLogger(args Args) {
	level, _ := parseLevel(args.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if args.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	args := ParseArgs()
	if err := args.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid arguments:", err)
		os.Exit(2)
	}
	setupLogger(args)

	server, err := api.NewServer(args.ServerConfig)
	if err != nil {
		slog.Error("Fail to create server", slog.Any("error", err))
		os.Exit(1)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Once {
		result, err := server.RunOnce(ctx)
		if err != nil {
			slog.Error("Scheduler tick failed", slog.Any("error", err))
			return
		}
		slog.Info("Scheduler tick finished", slog.Any("applied", result.Applied), slog.String("skipped", result.Skipped))
		return
	}

	if err := server.Start(); err != nil {
		slog.Error("Fail to start server", slog.Any("error", err))
		return
	}
	<-ctx.Done()
	slog.Info("Shutting down")
}
