package config

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/consts"
)

var Module = fx.Module("config", fx.Provide(
	// Loads lockstep.yaml when present, falling back to defaults so commands
	// like new and help work without a config file. A .env file in the
	// working directory is loaded first so its values are visible to ${VAR}
	// interpolation, then the LOCKSTEP_ENV profile and LOCKSTEP_* overrides
	// are applied on top.
	func() (*Config, error) {
		_ = godotenv.Load()

		cfg := Default()
		if _, err := os.Stat(consts.ConfigFile); err == nil {
			loaded, err := LoadConfigFile(consts.ConfigFile)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}

		if err := cfg.ApplyProfile(os.Getenv("LOCKSTEP_ENV")); err != nil {
			return nil, err
		}
		if err := cfg.ApplyEnvOverrides(); err != nil {
			return nil, err
		}

		return cfg, nil
	},
))
