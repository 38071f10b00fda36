// Package hook runs operator-defined shell commands around migration runs.
package hook

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

// Hook names recognized in configuration.
const (
	BeforeApply    = "before_apply"
	AfterApply     = "after_apply"
	BeforeRollback = "before_rollback"
	AfterRollback  = "after_rollback"
)

// Runner executes configured hook commands through the shell.
type Runner struct {
	commands map[string]string
	log      *slog.Logger
}

// NewRunner returns a Runner over commands, a map of hook name to shell
// command. Unknown names are ignored.
func NewRunner(commands map[string]string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Runner{commands: commands, log: log}
}

// Run executes the command registered under name, if any. The command runs
// via "sh -c" with LOCKSTEP_HOOK set to name and LOCKSTEP_MIGRATIONS set to
// the space-separated ids in the batch. Output streams to the process's
// stdout and stderr.
func (r *Runner) Run(ctx context.Context, name string, migs []*migration.Migration) error {
	command, ok := r.commands[name]
	if !ok || command == "" {
		return nil
	}

	ids := make([]string, len(migs))
	for i, m := range migs {
		ids[i] = m.ID
	}

	r.log.Info("running hook", "hook", name, "command", command)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"LOCKSTEP_HOOK="+name,
		"LOCKSTEP_MIGRATIONS="+strings.Join(ids, " "),
	)

	return errors.Wrapf(cmd.Run(), "hook %s failed", name)
}

// EngineHooks adapts the runner to the engine's callback points. Names with
// no configured command become nil callbacks so the engine skips them.
func (r *Runner) EngineHooks() engine.Hooks {
	bind := func(name string) func(context.Context, []*migration.Migration) error {
		if r.commands[name] == "" {
			return nil
		}
		return func(ctx context.Context, migs []*migration.Migration) error {
			return r.Run(ctx, name, migs)
		}
	}

	return engine.Hooks{
		BeforeApply:    bind(BeforeApply),
		AfterApply:     bind(AfterApply),
		BeforeRollback: bind(BeforeRollback),
		AfterRollback:  bind(AfterRollback),
	}
}
