package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pseudomuto/lockstep/pkg/consts"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration: %s", raw)
	}

	*d = Duration(parsed)
	return nil
}

type (
	// Database holds PostgreSQL connection settings. When URL is set it wins
	// over the individual fields.
	Database struct {
		// Host is the database server hostname (default "localhost")
		Host string `yaml:"host,omitempty"`

		// Port is the database server port (default 5432)
		Port int `yaml:"port,omitempty"`

		// User is the role to connect as
		User string `yaml:"user,omitempty"`

		// Password is the role's password. Prefer ${VAR} interpolation over
		// committing a literal value
		Password string `yaml:"password,omitempty"`

		// Name is the database to connect to
		Name string `yaml:"name,omitempty"`

		// SSLMode is the libpq sslmode setting (default "disable")
		SSLMode string `yaml:"sslmode,omitempty"`

		// URL is a complete postgres:// connection string. When present it
		// takes precedence over every other field in this struct
		URL string `yaml:"url,omitempty"`
	}

	// Env is a named profile that overrides connection settings, letting one
	// config file describe development, staging, and production.
	Env struct {
		// Database overrides; only the fields set here replace the base values
		Database Database `yaml:"database"`
	}

	// Config represents the project configuration for migration management.
	Config struct {
		// Database contains the base connection settings
		Database Database `yaml:"database"`

		// Dir specifies the directory where migration files are stored
		Dir string `yaml:"dir"`

		// SeedDir specifies the directory where seed files are stored
		SeedDir string `yaml:"seed_dir"`

		// LockID is the advisory lock key used to serialize runs against the
		// same database
		LockID int64 `yaml:"lock_id"`

		// LockTimeout bounds how long a run waits for the advisory lock
		LockTimeout Duration `yaml:"lock_timeout"`

		// LogFormat selects log output: "text" (default) or "json"
		LogFormat string `yaml:"log_format"`

		// Hooks maps hook names (before_apply, after_apply, before_rollback,
		// after_rollback) to shell commands
		Hooks map[string]string `yaml:"hooks"`

		// Envs holds named profiles selectable via LOCKSTEP_ENV or --env
		Envs map[string]Env `yaml:"envs"`
	}
)

// LoadConfig parses a project configuration from the provided io.Reader.
//
// The raw YAML is environment-interpolated before decoding: ${VAR} and $VAR
// references are replaced with the values from the process environment, so
// secrets stay out of the file. Missing settings fall back to defaults.
//
// Example:
//
//	yamlData := `
//	database:
//	  host: localhost
//	  user: app
//	  password: ${PGPASSWORD}
//	  name: app_development
//	dir: migrations
//	`
//
//	cfg, err := config.LoadConfig(strings.NewReader(yamlData))
//	if err != nil {
//		panic(err)
//	}
//
//	fmt.Printf("Migration dir: %s\n", cfg.Dir)
func LoadConfig(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadConfigFile loads a project configuration from the specified file path.
// This is a convenience function that opens the file and calls LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = consts.DefaultMigrationsDir
	}
	if c.SeedDir == "" {
		c.SeedDir = consts.DefaultSeedsDir
	}
	if c.LockID == 0 {
		c.LockID = consts.DefaultLockID
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = Duration(consts.DefaultLockTimeout)
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

// ApplyProfile overlays the named profile's settings onto the base
// configuration. An empty name is a no-op; an unknown name is an error.
func (c *Config) ApplyProfile(name string) error {
	if name == "" {
		return nil
	}

	env, ok := c.Envs[name]
	if !ok {
		return errors.Errorf("unknown environment: %s", name)
	}

	overlay(&c.Database, env.Database)
	return nil
}

// ApplyEnvOverrides applies LOCKSTEP_* environment variables on top of the
// file settings. These win over both the base config and any profile, so
// CI and one-off runs can redirect a tool without editing files.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("LOCKSTEP_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LOCKSTEP_LOCK_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid LOCKSTEP_LOCK_ID")
		}
		c.LockID = id
	}

	overlay(&c.Database, Database{
		Host:     os.Getenv("LOCKSTEP_DB_HOST"),
		User:     os.Getenv("LOCKSTEP_DB_USER"),
		Password: os.Getenv("LOCKSTEP_DB_PASSWORD"),
		Name:     os.Getenv("LOCKSTEP_DB_NAME"),
		SSLMode:  os.Getenv("LOCKSTEP_DB_SSLMODE"),
	})

	if v := os.Getenv("LOCKSTEP_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid LOCKSTEP_DB_PORT")
		}
		c.Database.Port = port
	}
	return nil
}

// DSN returns the connection string for database/sql. A configured URL is
// returned verbatim; otherwise a libpq key=value string is assembled from
// the individual fields.
func (c *Config) DSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	parts := []string{
		"host=" + quoteConn(c.Database.Host),
		fmt.Sprintf("port=%d", c.Database.Port),
		"sslmode=" + quoteConn(c.Database.SSLMode),
	}
	if c.Database.User != "" {
		parts = append(parts, "user="+quoteConn(c.Database.User))
	}
	if c.Database.Password != "" {
		parts = append(parts, "password="+quoteConn(c.Database.Password))
	}
	if c.Database.Name != "" {
		parts = append(parts, "dbname="+quoteConn(c.Database.Name))
	}

	return strings.Join(parts, " ")
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst *Database, src Database) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.User != "" {
		dst.User = src.User
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.SSLMode != "" {
		dst.SSLMode = src.SSLMode
	}
	if src.URL != "" {
		dst.URL = src.URL
	}
}

// quoteConn quotes a libpq conninfo value when it contains characters that
// would otherwise terminate it.
func quoteConn(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}

	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
