// Package main implements the entry point for the streamguard pipeline:
// a resilience layer between message ingestion and an unreliable
// downstream model call, with deduplication, backpressure, circuit
// breaking, and priority-based task execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/streamguard/config"
	"github.com/c360/streamguard/engine"
	"github.com/c360/streamguard/processor"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streamguard"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML or JSON configuration file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		slog.Info("configuration is valid", "path", *configPath)
		return nil
	}

	logger := engine.NewLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting streamguard", "version", Version, "config_path", *configPath)

	eng, err := engine.New(cfg, modelHandler, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return eng.Stop()
}

// modelHandler is the downstream call guarded by the pipeline. The stub
// echoes until a real model client is wired in.
//
// TODO: replace with the production model client once its endpoint config
// lands in config.Config.
func modelHandler(ctx context.Context, content string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "ack: " + content, nil
	}
}

var _ processor.Handler = modelHandler
