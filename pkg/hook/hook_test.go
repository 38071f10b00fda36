package hook_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pseudomuto/lockstep/pkg/hook"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

func TestRunExportsHookEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")

	r := hook.NewRunner(map[string]string{
		hook.BeforeApply: `echo "$LOCKSTEP_HOOK:$LOCKSTEP_MIGRATIONS" > ` + out,
	}, nil)

	migs := []*migration.Migration{
		{ID: "01A", Name: "users"},
		{ID: "01B", Name: "posts"},
	}
	require.NoError(t, r.Run(context.Background(), hook.BeforeApply, migs))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "before_apply:01A 01B\n", string(content))
}

func TestRunUnconfiguredHookIsNoOp(t *testing.T) {
	r := hook.NewRunner(map[string]string{}, nil)
	require.NoError(t, r.Run(context.Background(), hook.AfterApply, nil))
}

func TestRunFailingCommand(t *testing.T) {
	r := hook.NewRunner(map[string]string{hook.BeforeApply: "exit 3"}, nil)

	err := r.Run(context.Background(), hook.BeforeApply, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "hook before_apply failed")
}

func TestEngineHooksBinding(t *testing.T) {
	r := hook.NewRunner(map[string]string{hook.BeforeApply: "true"}, nil)
	hooks := r.EngineHooks()

	// Only configured names get callbacks; the engine skips nil ones.
	require.NotNil(t, hooks.BeforeApply)
	require.Nil(t, hooks.AfterApply)
	require.Nil(t, hooks.BeforeRollback)
	require.Nil(t, hooks.AfterRollback)

	require.NoError(t, hooks.BeforeApply(context.Background(), nil))
}
