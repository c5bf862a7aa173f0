package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/cli/render"
	"github.com/pithecene-io/unlockbench/lode"
	"github.com/pithecene-io/unlockbench/runtime"
)

// HistoryCommand returns the history command.
// History reads the run archive, not the record store.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the archived record for a request id",
		ArgsUsage: "<requestId>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Record kind: run or proxy_check (default any)",
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history command", runtime.ExitCodeConfig)
	}
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one request id", runtime.ExitCodeConfig)
	}
	kind := c.String("kind")
	switch kind {
	case "", lode.RecordKindRun, lode.RecordKindProxyCheck:
	default:
		return cli.Exit(fmt.Sprintf("invalid kind %q (must be run or proxy_check)", kind), runtime.ExitCodeConfig)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Archive.Backend == "" || cfg.Archive.Backend == lode.BackendMemory {
		return cli.Exit("history needs a persistent archive (archive.backend fs or s3)", runtime.ExitCodeConfig)
	}

	archive, err := lode.Open(c.Context, archiveConfig(cfg), nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open archive: %v", err), 1)
	}
	defer func() { _ = archive.Close() }()

	record, err := lode.QueryLatestRun(c.Context, archive.Dataset(), c.Args().First(), kind)
	if errors.Is(err, lode.ErrNoRunFound) {
		return cli.Exit(fmt.Sprintf("no archived record for %s", c.Args().First()), 1)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("query archive: %v", err), 1)
	}
	return r.Render(record)
}
