package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/adapter"
	"github.com/pithecene-io/unlockbench/adapter/redis"
	"github.com/pithecene-io/unlockbench/adapter/webhook"
	"github.com/pithecene-io/unlockbench/cli/config"
	"github.com/pithecene-io/unlockbench/fetch"
	"github.com/pithecene-io/unlockbench/lode"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/progress"
	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/registry"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
)

// geoURL is the proxy verification target. Tests point it at a local server.
var geoURL = proxy.GeoURL

// loadConfig resolves .env, the config file and defaults, then applies
// global flag overrides. Errors exit with the config code.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), runtime.ExitCodeConfig)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	var out io.Writer = os.Stderr
	if c.App != nil && c.App.ErrWriter != nil {
		out = c.App.ErrWriter
	}
	logger, err := log.New(log.Options{Level: cfg.Log.Level, File: cfg.Log.File, Output: out})
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("logger: %v", err), runtime.ExitCodeConfig)
	}
	return logger, nil
}

// deps is the runtime graph shared by serve, run and check.
type deps struct {
	cfg       *config.Config
	logger    *log.Logger
	collector *metrics.Collector
	store     store.Store
	archive   *lode.Archive
	publisher *progress.Publisher
	observer  *progress.AdapterObserver
	orch      *runtime.Orchestrator
	verifier  *proxy.Verifier
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *log.Logger) (*deps, error) {
	d := &deps{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(cfg.Storage.Backend, cfg.Archive.Backend),
	}

	st, err := store.Open(ctx, store.Config{Backend: cfg.Storage.Backend, DSN: cfg.Storage.DSN}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = store.NewInstrumented(st, d.collector)

	d.archive, err = lode.Open(ctx, archiveConfig(cfg), d.collector)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	d.publisher = progress.NewPublisher(cfg.Server.StreamBuffer, logger, d.collector)
	a, err := newAdapter(cfg.Adapter)
	if err != nil {
		d.Close()
		return nil, err
	}
	if a != nil {
		d.observer = progress.NewAdapterObserver(a, cfg.Adapter.Timeout.Duration, logger, d.collector)
		d.publisher.AddObserver(d.observer)
	}

	selector := proxy.NewSelector()
	if err := selector.RegisterPool(cfg.GatewayPool()); err != nil {
		d.Close()
		return nil, fmt.Errorf("proxy gateways: %w", err)
	}
	gateways := proxy.NewGateways(selector, config.DefaultPoolName)

	executor := fetch.NewHTTPExecutor(logger)
	d.orch = runtime.New(runtime.Config{
		Executor:     executor,
		Registry:     registry.New(),
		Progress:     d.publisher,
		Gateways:     gateways,
		Logger:       logger,
		Collector:    d.collector,
		FetchTimeout: cfg.Fetch.Timeout.Duration,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	d.verifier = proxy.NewVerifier(executor, gateways, logger).
		WithGeoURL(geoURL).
		WithTimeout(cfg.Fetch.ProxyTimeout.Duration)

	return d, nil
}

func archiveConfig(cfg *config.Config) lode.Config {
	ac := lode.Config{
		Backend: cfg.Archive.Backend,
		Dataset: cfg.Archive.Dataset,
		Path:    cfg.Archive.Path,
	}
	if ac.Backend == lode.BackendS3 {
		bucket, prefix := lode.ParseS3Path(cfg.Archive.Path)
		ac.S3 = lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.S3PathStyle,
		}
	}
	return ac
}

// newAdapter builds the run-completed adapter, nil when none is configured.
func newAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case "":
		return nil, nil
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

// Close releases everything buildDeps opened. Safe on a partial graph.
func (d *deps) Close() error {
	var errs []error
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.observer != nil {
		errs = append(errs, d.observer.Close())
	}
	if d.archive != nil {
		errs = append(errs, d.archive.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	_ = d.logger.Sync()
	return errors.Join(errs...)
}
