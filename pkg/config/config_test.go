package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pseudomuto/lockstep/pkg/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(strings.NewReader("{}"))
	require.NoError(t, err)

	require.Equal(t, "migrations", cfg.Dir)
	require.Equal(t, "seeds", cfg.SeedDir)
	require.Equal(t, int64(894321), cfg.LockID)
	require.Equal(t, config.Duration(30*time.Second), cfg.LockTimeout)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, "localhost", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "disable", cfg.Database.SSLMode)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := config.LoadConfig(strings.NewReader(`
database:
  host: db.internal
  port: 5433
  user: app
  name: app_production
  sslmode: require
dir: db/migrations
lock_id: 42
lock_timeout: 10s
log_format: json
hooks:
  before_apply: ./scripts/backup.sh
`))
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 5433, cfg.Database.Port)
	require.Equal(t, "db/migrations", cfg.Dir)
	require.Equal(t, int64(42), cfg.LockID)
	require.Equal(t, config.Duration(10*time.Second), cfg.LockTimeout)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "./scripts/backup.sh", cfg.Hooks["before_apply"])
}

func TestLoadConfigInterpolatesEnv(t *testing.T) {
	t.Setenv("TEST_PGPASSWORD", "sup3rs3cret")

	cfg, err := config.LoadConfig(strings.NewReader(`
database:
  user: app
  password: ${TEST_PGPASSWORD}
`))
	require.NoError(t, err)
	require.Equal(t, "sup3rs3cret", cfg.Database.Password)
}

func TestApplyProfile(t *testing.T) {
	cfg, err := config.LoadConfig(strings.NewReader(`
database:
  host: localhost
  user: app
  name: app_development
envs:
  staging:
    database:
      host: staging.db.internal
      name: app_staging
`))
	require.NoError(t, err)

	require.NoError(t, cfg.ApplyProfile("staging"))

	// Overridden fields change; everything else carries through.
	require.Equal(t, "staging.db.internal", cfg.Database.Host)
	require.Equal(t, "app_staging", cfg.Database.Name)
	require.Equal(t, "app", cfg.Database.User)
}

func TestApplyProfileUnknown(t *testing.T) {
	cfg := config.Default()

	err := cfg.ApplyProfile("nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown environment: nope")

	require.NoError(t, cfg.ApplyProfile(""))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOCKSTEP_DB_HOST", "override.db")
	t.Setenv("LOCKSTEP_DB_PORT", "6543")
	t.Setenv("LOCKSTEP_LOCK_ID", "777")

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnvOverrides())

	require.Equal(t, "override.db", cfg.Database.Host)
	require.Equal(t, 6543, cfg.Database.Port)
	require.Equal(t, int64(777), cfg.LockID)
}

func TestApplyEnvOverridesURLWins(t *testing.T) {
	t.Setenv("LOCKSTEP_DATABASE_URL", "postgres://app@ci-db:5432/app_test?sslmode=disable")

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	require.Equal(t, "postgres://app@ci-db:5432/app_test?sslmode=disable", cfg.DSN())
}

func TestApplyEnvOverridesInvalid(t *testing.T) {
	t.Setenv("LOCKSTEP_LOCK_ID", "not-a-number")

	cfg := config.Default()
	require.Error(t, cfg.ApplyEnvOverrides())
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		db   config.Database
		want string
	}{
		{
			name: "url_takes_precedence",
			db: config.Database{
				URL:  "postgres://u:p@h:5432/d",
				Host: "ignored",
			},
			want: "postgres://u:p@h:5432/d",
		},
		{
			name: "conninfo_assembly",
			db: config.Database{
				Host:    "db.internal",
				Port:    5433,
				User:    "app",
				Name:    "app_production",
				SSLMode: "require",
			},
			want: "host=db.internal port=5433 sslmode=require user=app dbname=app_production",
		},
		{
			name: "values_with_spaces_are_quoted",
			db: config.Database{
				Host:     "localhost",
				Port:     5432,
				User:     "app",
				Password: "it's a secret",
				SSLMode:  "disable",
			},
			want: `host=localhost port=5432 sslmode=disable user=app password='it\'s a secret'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{Database: tt.db}
			require.Equal(t, tt.want, cfg.DSN())
		})
	}
}
