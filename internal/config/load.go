package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file over the defaults, then applies
// environment overrides. Unknown keys are fatal with "did you mean?"
// suggestions: a silently ignored typo in a security setting is worse than
// a refused start.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists; otherwise it starts
// from the defaults. Environment overrides apply either way, so a
// container can be configured through the environment alone. The returned
// path is "" when no file was read.
func LoadOrDefault(path string, lookup LookupFunc) (*Config, string, error) {
	if path == "" {
		cfg, err := defaultsWithEnv(lookup)
		return cfg, "", err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := defaultsWithEnv(lookup)
		return cfg, "", err
	}

	cfg, err := Load(path, lookup)
	if err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

func defaultsWithEnv(lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig()

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	return cfg, nil
}

// ConfigPath picks the config file: CLI flag, then environment, then the
// platform default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) (path string, explicit bool) {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath, true
	case env.ConfigPath != "":
		return env.ConfigPath, true
	default:
		return DefaultConfigPath(), false
	}
}

// Resolve loads configuration through the four-layer override chain
// (defaults -> config file -> environment -> CLI flags) and returns the
// validated, typed result. An explicitly named config file must exist.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	path, explicit := ConfigPath(env, cli)

	if explicit {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg, used, err := LoadOrDefault(path, env.Lookup)
	if err != nil {
		return nil, err
	}

	if cli.ListenAddr != nil {
		cfg.Server.ListenAddr = *cli.ListenAddr
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}

	resolved, err := resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	resolved.Path = used

	return resolved, nil
}
