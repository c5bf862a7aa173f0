package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/cli/render"
	"github.com/pithecene-io/unlockbench/cli/tui"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/progress"
	"github.com/pithecene-io/unlockbench/rules"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

// RunCommand returns the run command.
// It executes one unlocker test in-process, the same way the API does.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run an unlocker test against a URL",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "url",
				Usage:    "Target URL (https:// is assumed when no scheme is given)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "instances",
				Usage: "Number of requests to issue",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "delay",
				Usage: "Seconds between sequential requests (0 runs all in parallel)",
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Request header as name=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "cookie",
				Usage: "Cookie as name=value (repeatable)",
			},
			&cli.StringFlag{
				Name:  "rules",
				Usage: "Unblock rules JSON sent as x-unblock-rules",
			},
			&cli.StringFlag{
				Name:  "rules-b",
				Usage: "Secondary rules JSON for A/B comparison",
			},
			&cli.BoolFlag{
				Name:  "ab",
				Usage: "Compare --rules against --rules-b (single instance only)",
			},
			&cli.StringFlag{
				Name:  "credentials",
				Usage: "Proxy credentials as USER:PASS",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Proxy port (defaults to proxy.default_port)",
			},
			&cli.StringFlag{
				Name:  "country",
				Usage: "Two-letter egress country",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (- for stderr)",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	req, err := runRequest(c, cfg.Proxy.DefaultPort)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}

	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = d.Close() }()

	start := time.Now()
	runID := runtime.NewRunID(start)

	// First signal stops the run between instances; a second aborts it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		if err := d.orch.Registry().MarkStopped(runID); err == nil {
			d.publisher.Stopped(runID)
			logger.Info("stop requested", map[string]any{"run_id": runID})
		}
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sub := d.publisher.Subscribe(runID)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		logProgress(logger, sub.Events())
	}()

	result := d.orch.Run(ctx, runID, req)
	duration := time.Since(start)
	sub.Close()
	<-logged

	saveRun(context.WithoutCancel(ctx), d, runID, req, result)

	if path := c.String("report"); path != "" {
		report := runtime.BuildRunReport(runID, result, d.collector.Snapshot(), duration, proxyUser(req))
		if err := runtime.WriteRunReport(report, path); err != nil {
			logger.Warn("write report failed", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if c.Bool("tui") {
		if err := r.RenderTUI("run", tui.RunData{RequestID: runID, Result: result}); err != nil {
			return err
		}
	} else if err := r.Render(render.RunView{RequestID: runID, Result: result}); err != nil {
		return err
	}

	return cli.Exit("", runtime.ExitCode(result))
}

// runRequest builds and validates the request from flags.
func runRequest(c *cli.Context, defaultPort string) (types.RunRequest, error) {
	headers, err := parseFields(c.StringSlice("header"))
	if err != nil {
		return types.RunRequest{}, fmt.Errorf("--header: %w", err)
	}
	cookies, err := parseFields(c.StringSlice("cookie"))
	if err != nil {
		return types.RunRequest{}, fmt.Errorf("--cookie: %w", err)
	}

	req := types.RunRequest{
		URL:         c.String("url"),
		Instances:   c.Int("instances"),
		Delay:       c.Int("delay"),
		Headers:     headers,
		Cookies:     cookies,
		Rules:       c.String("rules"),
		RulesB:      c.String("rules-b"),
		ABTesting:   c.Bool("ab"),
		Credentials: c.String("credentials"),
		Port:        c.String("port"),
		Country:     c.String("country"),
	}
	if req.Credentials != "" {
		if _, err := types.ParseCredentials(req.Credentials); err != nil {
			return types.RunRequest{}, err
		}
		if req.Port == "" {
			req.Port = defaultPort
		}
	}
	if err := rules.ValidateJSON(req.Rules); err != nil {
		return types.RunRequest{}, fmt.Errorf("--rules: %w", err)
	}
	if req.ABTesting && strings.TrimSpace(req.RulesB) == "" {
		return types.RunRequest{}, errors.New("--ab requires --rules-b")
	}
	return req.Normalize()
}

// parseFields parses name=value pairs. Values may contain '='.
func parseFields(pairs []string) ([]types.Field, error) {
	fields := make([]types.Field, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", p)
		}
		fields = append(fields, types.Field{Name: name, Value: value})
	}
	return fields, nil
}

func logProgress(logger *log.Logger, events <-chan progress.Event) {
	for ev := range events {
		fields := map[string]any{"type": ev.Type, "run_id": ev.RequestID}
		if ev.InstanceNum != progress.RunLevel {
			fields["instance"] = ev.InstanceNum
		}
		if inst, ok := ev.Result.(types.InstanceResult); ok {
			fields["success"] = inst.Success
			fields["response_time"] = inst.ResponseTime
			if inst.Error != "" {
				fields["error"] = inst.Error
			}
		}
		logger.Info("progress", fields)
	}
}

// saveRun stores and archives a finished run. Failures are logged only.
func saveRun(ctx context.Context, d *deps, runID string, req types.RunRequest, result *types.RunResult) {
	logger := d.logger.WithRun(runID)
	rec, err := store.NewRunRecord(runID, req, result, time.Now())
	if err != nil {
		logger.Error("encode run record failed", map[string]any{"error": err.Error()})
		return
	}
	if _, err := d.store.CreateTest(ctx, rec); err != nil {
		logger.Error("store run record failed", map[string]any{"error": err.Error()})
	}
	if err := d.archive.WriteRun(ctx, runID, req, result); err != nil {
		logger.Warn("archive run failed", map[string]any{"error": err.Error()})
	}
}

func proxyUser(req types.RunRequest) string {
	if req.Credentials == "" {
		return ""
	}
	creds, err := types.ParseCredentials(req.Credentials)
	if err != nil {
		return ""
	}
	return types.SpliceCountry(creds, req.Country).Masked()
}
