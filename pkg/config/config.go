// Package config loads .docbot/config.toml, merges it over built-in
// defaults, and resolves the environment variable that gates LLM usage.
// Grounded on the teacher's pkg/config/loader.go: a file-backed config
// struct, a mergo-based default merge, and named sentinel errors — adapted
// from YAML to TOML because the external contract (spec §6) names
// config.toml rather than tarsy.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"dario.cat/mergo"
)

var (
	// ErrConfigNotFound indicates the config file itself could not be read
	// for a reason other than simply not existing (missing is not an error).
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidTOML indicates the config file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML syntax")

	// ErrInvalidValue indicates a field has a value outside its valid range.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// APIKeyEnvVar is the environment variable checked at startup. If unset,
// the run is forced into --no-llm mode regardless of the config file.
const APIKeyEnvVar = "ANTHROPIC_API_KEY"

// Config is the fully resolved configuration for one docbot run.
type Config struct {
	Model            string `toml:"model"`
	Concurrency      int    `toml:"concurrency"`
	TimeoutSeconds   int    `toml:"timeout"`
	MaxScopes        int    `toml:"max_scopes"`
	MaxSnapshots     int    `toml:"max_snapshots"`
	NoLLM            bool   `toml:"no_llm"`
	AgentMaxDepth    int    `toml:"agent_max_depth"`
	AgentMaxParallel int    `toml:"agent_max_parallel"`
}

// Defaults returns the built-in configuration applied before any
// config.toml is merged on top.
func Defaults() Config {
	return Config{
		Model:            "claude-sonnet-4-5",
		Concurrency:      4,
		TimeoutSeconds:   120,
		MaxScopes:        20,
		MaxSnapshots:     10,
		NoLLM:            false,
		AgentMaxDepth:    2,
		AgentMaxParallel: 8,
	}
}

// Load reads configPath (repoRoot/.docbot/config.toml), merges it over the
// built-in defaults, and applies the API-key environment check. A missing
// file is not an error — the defaults alone are a valid configuration.
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return finalize(cfg), nil
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, configPath, err)
	}

	// Decode over a copy of the defaults so keys absent from the file keep
	// their default, while a key set to a zero value (concurrency = 0) still
	// overrides it and reaches validate.
	fromFile := Defaults()
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}

	if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return cfg, fmt.Errorf("merge config.toml over defaults: %w", err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return finalize(cfg), nil
}

// LoadFromRepo is a convenience wrapper resolving the well-known
// .docbot/config.toml path under repoRoot.
func LoadFromRepo(repoRoot string) (Config, error) {
	return Load(filepath.Join(repoRoot, ".docbot", "config.toml"))
}

// finalize applies the API-key gate: no key in the environment forces
// no_llm regardless of what config.toml or the defaults say.
func finalize(cfg Config) Config {
	if os.Getenv(APIKeyEnvVar) == "" {
		cfg.NoLLM = true
	}
	return cfg
}

func validate(cfg Config) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidValue, cfg.Concurrency)
	}
	if cfg.TimeoutSeconds < 1 {
		return fmt.Errorf("%w: timeout must be >= 1, got %d", ErrInvalidValue, cfg.TimeoutSeconds)
	}
	if cfg.MaxScopes < 1 {
		return fmt.Errorf("%w: max_scopes must be >= 1, got %d", ErrInvalidValue, cfg.MaxScopes)
	}
	if cfg.MaxSnapshots < 1 {
		return fmt.Errorf("%w: max_snapshots must be >= 1, got %d", ErrInvalidValue, cfg.MaxSnapshots)
	}
	if cfg.AgentMaxDepth < 0 {
		return fmt.Errorf("%w: agent_max_depth must be >= 0, got %d", ErrInvalidValue, cfg.AgentMaxDepth)
	}
	if cfg.AgentMaxParallel < 1 {
		return fmt.Errorf("%w: agent_max_parallel must be >= 1, got %d", ErrInvalidValue, cfg.AgentMaxParallel)
	}
	return nil
}
