// Command bridge answers carrier media streams and connects each call to
// the configured speech and dialog providers.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/square-key-labs/strawgo-bridge/src/config"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/pipeline"
	"github.com/square-key-labs/strawgo-bridge/src/providers"
	"github.com/square-key-labs/strawgo-bridge/src/stats"
	"github.com/square-key-labs/strawgo-bridge/src/transports"
)

// shutdownGrace bounds how long live calls get to clean up on exit.
const shutdownGrace = 10 * time.Second

func main() {
	logger.Init()
	defer logger.GetDefault().Sync()

	if err := run(); err != nil {
		logger.Error("Bridge stopped: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	}

	factory := providers.NewFactory(cfg.Providers)
	mode := "pipeline"
	if factory.IsDuplex() {
		mode = "duplex"
	}
	logger.Info("Providers: asr=%s dialog=%s tts=%s (%s mode)",
		cfg.Providers.ASR, cfg.Providers.Dialog, cfg.Providers.TTS, mode)

	registry := stats.NewRegistry()
	manager := pipeline.NewManager(pipeline.SessionConfigFrom(cfg), factory, registry)
	server := transports.NewServer(transports.ServerConfig{
		Address:    cfg.Server.HTTPAddress,
		StreamPath: cfg.Server.StreamPath,
		PublicHost: cfg.Server.PublicHost,
		Media:      manager,
		Stats:      registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return errors.Join(
			server.Shutdown(shutdownCtx),
			manager.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}
