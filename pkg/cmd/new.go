package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

type newParams struct {
	fx.In

	Config *config.Config
}

// newCmd creates the new command for generating a skeleton migration file.
// Ids are ULIDs, so files created later always sort after earlier ones.
//
// Example usage:
//
//	lockstep new create users table
//	# migrations/01J2ZK7Q8B3W9XWY2N5T0VH4RD_create_users_table.sql
func newCmd(p newParams) *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "Create a new migration file",
		ArgsUsage: "<name>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(name) == "" {
				return errors.New("a migration name is required")
			}

			path, err := migration.Generate(p.Config.Dir, name)
			if err != nil {
				return err
			}

			fmt.Printf("Created %s\n", path)
			return nil
		},
	}
}
