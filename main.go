package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/utils"
)

// main starts the parley API and event server and blocks until interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Make sure a config file with a signing secret exists before loading it.
	if _, err := config.EnsureDefaultConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to write default config:", err)
	}

	cfg, cfgPath, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	// Initialize logging system
	utils.InitLogger(cfg.Log.Level, cfg.Log.Format)
	logger := utils.GetLogger()
	logger.Info("Config loaded", "path", cfgPath)

	server, err := NewServer(cfg)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		server.Close()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	server.Close()
}
