package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/types"
)

// NewApp assembles the unlockbench command tree.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "unlockbench",
		Usage:   "Web Unlocker proxy testing dashboard and CLI",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
			CheckCommand(),
			ResultsCommand(),
			HistoryCommand(),
			VersionCommand(commit),
		},
	}
}
