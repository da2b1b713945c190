package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	mcpadapter "github.com/ericfisherdev/credvault/internal/adapter/driving/mcp"
	"github.com/ericfisherdev/credvault/internal/bootstrap"
	"github.com/ericfisherdev/credvault/internal/config"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	srv := mcpadapter.NewVaultServer(mcpadapter.ServerDeps{
		Vault:       app.Vault,
		DefaultUser: cfg.MCPUser,
		Version:     version,
		Logger:      logger,
	})

	logger.Info("mcp server starting", "default_user", cfg.MCPUser)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("mcp server stopped")
	return nil
}
