package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/cli/render"
	"github.com/pithecene-io/unlockbench/cli/tui"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

// ResultsCommand returns the results command with subcommands.
// Results read and edit the configured record store directly.
func ResultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "List, show or delete stored test results",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored results, newest first",
				Flags: append(ReadOnlyFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results to return (0 = no limit)",
					},
				),
				Action: resultsListAction,
			},
			{
				Name:      "show",
				Usage:     "Show one stored result",
				ArgsUsage: "<id>",
				Flags:     ReadOnlyFlags(),
				Action:    resultsShowAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a stored result, one of its instances, or everything",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "instance",
						Usage: "Delete only this instance of a multi-instance run",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Delete every stored result",
					},
				},
				Action: resultsDeleteAction,
			},
		},
	}
}

// openStore opens the configured store without the run graph.
func openStore(c *cli.Context) (store.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(c.Context, store.Config{Backend: cfg.Storage.Backend, DSN: cfg.Storage.DSN}, logger)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	if cfg.Storage.Backend == store.BackendMemory {
		logger.Warn("memory store holds no results across invocations", map[string]any{"hint": "set storage.backend to sqlite or postgres"})
	}
	return st, nil
}

func parseID(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, cli.Exit("expected exactly one result id", runtime.ExitCodeConfig)
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Exit(fmt.Sprintf("invalid result id %q", c.Args().First()), runtime.ExitCodeConfig)
	}
	return id, nil
}

func resultsListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for results list", runtime.ExitCodeConfig)
	}
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	recs, err := st.ListTests(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("list results: %v", err), 1)
	}
	if limit := c.Int("limit"); limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return r.Render(render.RecordList(recs))
}

func resultsShowAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rec, err := getRecord(c.Context, st, id)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		if rec.TestType != types.TestTypeUnlocker {
			return cli.Exit("--tui is only supported for unlocker results", runtime.ExitCodeConfig)
		}
		result, err := recordResult(rec)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return r.RenderTUI("result", tui.RunData{RequestID: rec.TestGroup, Result: result})
	}
	return r.Render(rec)
}

func getRecord(ctx context.Context, st store.Store, id int64) (*store.Record, error) {
	rec, err := st.GetTest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, cli.Exit(fmt.Sprintf("result %d not found", id), 1)
	}
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("get result: %v", err), 1)
	}
	return rec, nil
}

// recordResult rebuilds a run result from a stored unlocker record.
func recordResult(rec *store.Record) (*types.RunResult, error) {
	result := &types.RunResult{
		Success:      rec.Success,
		URL:          rec.URL,
		TestType:     rec.TestType,
		ResponseTime: rec.ResponseTime,
		Instances:    rec.Instances,
		SuccessRate:  rec.SuccessRate,
		StatusCode:   rec.StatusCode,
		ContentType:  rec.ContentType,
		Content:      rec.Content,
		Error:        rec.ErrorMessage,
	}
	if rec.InstanceResults != "" {
		if err := json.Unmarshal([]byte(rec.InstanceResults), &result.InstanceResults); err != nil {
			return nil, fmt.Errorf("decode instance results: %w", err)
		}
	}
	return result, nil
}

func resultsDeleteAction(c *cli.Context) error {
	all := c.Bool("all")
	var id int64
	if !all {
		var err error
		if id, err = parseID(c); err != nil {
			return err
		}
	} else if c.NArg() > 0 {
		return cli.Exit("--all takes no result id", runtime.ExitCodeConfig)
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if all {
		if err := st.DeleteAllTests(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("delete results: %v", err), 1)
		}
		fmt.Fprintln(c.App.Writer, "deleted all results")
		return nil
	}

	var instance *int
	if c.IsSet("instance") {
		n := c.Int("instance")
		instance = &n
	}
	err = st.DeleteTest(c.Context, id, instance)
	if errors.Is(err, store.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("result %d not found", id), 1)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("delete result: %v", err), 1)
	}
	if instance != nil {
		fmt.Fprintf(c.App.Writer, "deleted instance %d of result %d\n", *instance, id)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "deleted result %d\n", id)
	return nil
}
