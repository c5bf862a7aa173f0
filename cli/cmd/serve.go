package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/registry"
	"github.com/pithecene-io/unlockbench/server"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = time.Minute
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the dashboard HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides server.listen)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Server.Listen = addr
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", map[string]any{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = d.Close() }()

	srv := server.New(server.Config{
		Store:        d.store,
		Orchestrator: d.orch,
		Publisher:    d.publisher,
		Verifier:     d.verifier,
		Archive:      d.archive,
		Collector:    d.collector,
		Logger:       logger,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		UseTLS:       cfg.Proxy.UseTLS,
	})

	if retention := cfg.RetentionOrZero(); retention > 0 {
		go runJanitor(ctx, d.orch.Registry(), retention, janitorInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Server.Listen) }()
	logger.Info("server starting", map[string]any{
		"storage": cfg.Storage.Backend,
		"archive": cfg.Archive.Backend,
		"adapter": cfg.Adapter.Type,
	})

	select {
	case err := <-errCh:
		if err != nil {
			return cli.Exit(fmt.Sprintf("server failed: %v", err), 1)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
	}
	logger.Info("server stopped", nil)
	return nil
}

// runJanitor evicts finished runs older than retention until ctx ends.
func runJanitor(ctx context.Context, reg *registry.Registry, retention, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := reg.Evict(now.Add(-retention)); n > 0 {
				logger.Debug("evicted finished runs", map[string]any{"count": n})
			}
		}
	}
}
