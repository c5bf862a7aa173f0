package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/cli/render"
	"github.com/pithecene-io/unlockbench/lode"
	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

// CheckCommand returns the check command.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify proxy credentials through the geo endpoint",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "credentials",
				Usage:    "Proxy credentials as USER:PASS",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Proxy port (defaults to proxy.default_port)",
			},
			&cli.StringFlag{
				Name:  "country",
				Usage: "Two-letter egress country",
			},
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "Verify over https (overrides proxy.use_tls)",
			},
		),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for check command", runtime.ExitCodeConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	creds, err := types.ParseCredentials(c.String("credentials"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	port := c.String("port")
	if port == "" {
		port = cfg.Proxy.DefaultPort
	}
	useTLS := cfg.Proxy.UseTLS || c.Bool("tls")
	country := c.String("country")

	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = d.Close() }()

	start := time.Now()
	check := d.verifier.Verify(ctx, proxy.VerifyRequest{
		Credentials: creds,
		Port:        port,
		UseTLS:      useTLS,
		Country:     country,
	})
	elapsed := time.Since(start)
	d.collector.IncProxyCheck(check.Success)

	spliced := types.SpliceCountry(creds, country)
	errMsg := ""
	if !check.Success {
		errMsg = check.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
	}
	rec, err := store.NewProxyRecord(spliced, port, check.Success, elapsed, check.GeoData, errMsg, time.Now())
	if err == nil {
		_, err = d.store.CreateTest(ctx, rec)
	}
	if err != nil {
		logger.Warn("store proxy check failed", map[string]any{"error": err.Error()})
	}
	if err := d.archive.WriteProxyCheck(ctx, lode.ProxyCheck{
		CheckID:      runtime.NewRunID(start),
		Credentials:  spliced,
		Port:         port,
		UseTLS:       useTLS,
		Success:      check.Success,
		ResponseTime: types.FormatSeconds(elapsed),
		Geo:          check.GeoData,
		Error:        errMsg,
	}); err != nil {
		logger.Warn("archive proxy check failed", map[string]any{"error": err.Error()})
	}

	view := render.CheckView{
		Proxy: fmt.Sprintf("%s port %s", spliced.Masked(), port),
		Check: check,
	}
	if err := r.Render(view); err != nil {
		return err
	}
	if !check.Success {
		return cli.Exit("", runtime.ExitCodeFailure)
	}
	return nil
}
