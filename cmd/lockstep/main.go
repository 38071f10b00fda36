package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/cmd"
	"github.com/pseudomuto/lockstep/pkg/config"
)

// NB: These are set by GoReleaser during a build.
var (
	version string
	commit  string
	date    string
)

func main() {
	fx.New(
		fx.NopLogger,
		fx.Provide(
			context.Background,
			func() []string { return os.Args },
			func() *cmd.Version {
				return &cmd.Version{Version: version, Commit: commit, Timestamp: date}
			},
		),
		config.Module,
		cmd.Module,
	).Run()
}
