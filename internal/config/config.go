package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nbodyrun configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Run bookkeeping
	Runs RunsConfig `yaml:"runs"`

	// Run history persistence
	Store StoreConfig `yaml:"store"`

	// Input file watching
	Watch WatchConfig `yaml:"watch"`

	// Batch sweeps
	Batch BatchConfig `yaml:"batch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures how simulations are executed.
type EngineConfig struct {
	// Engine kind: process, entry, or script
	Kind string `yaml:"kind"`

	// Path to the compiled simulation binary (process engine)
	Binary string `yaml:"binary"`

	// Path to an interpreted engine script (script engine)
	ScriptPath string `yaml:"script_path"`

	// Default timeout for a single run, empty or "0" means unlimited
	DefaultTimeout string `yaml:"default_timeout"`

	// Cap on captured stdout/stderr bytes per stream
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Environment variables to pass through to the subprocess
	AllowedEnvVars []string `yaml:"allowed_env_vars"`

	// Extra argv appended after the input path on every run
	ExtraArgs []string `yaml:"extra_args"`
}

// RunsConfig configures run bookkeeping and output discovery.
type RunsConfig struct {
	// Glob patterns used to discover simulation output files
	OutputPatterns []string `yaml:"output_patterns"`

	// Root directory for per-run output directories
	OutputRoot string `yaml:"output_root"`

	// Input file used when a run names none
	DefaultInput string `yaml:"default_input"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	// SQLite database path, relative paths resolve against the workspace
	DatabasePath string `yaml:"database_path"`

	// Days of history to keep, 0 keeps everything
	RetentionDays int `yaml:"retention_days"`
}

// WatchConfig configures the input file watcher.
type WatchConfig struct {
	// Debounce window between a file event and the triggered run
	Debounce string `yaml:"debounce"`

	// Input filename extensions that trigger a run
	Extensions []string `yaml:"extensions"`
}

// BatchConfig configures batch sweeps.
type BatchConfig struct {
	// Maximum concurrent runs in a sweep
	MaxParallel int `yaml:"max_parallel"`

	// Stop launching new runs after the first failure
	StopOnError bool `yaml:"stop_on_error"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultOutputPatterns lists the glob patterns used to discover files a
// simulation produced in its output directory.
var DefaultOutputPatterns = []string{
	"*.out", "*.dat", "*.txt", "*.csv", "*.log",
	"*.results", "*.output", "pk.*", "*.zel", "*.nbody*",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "nbodyrun",
		Version: "1.0.0",

		Engine: EngineConfig{
			Kind:           "process",
			Binary:         "nbody_comp",
			DefaultTimeout: "0",
			MaxOutputBytes: 10 * 1024 * 1024,
			AllowedEnvVars: []string{"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL"},
		},

		Runs: RunsConfig{
			OutputPatterns: DefaultOutputPatterns,
			OutputRoot:     "results",
		},

		Store: StoreConfig{
			DatabasePath:  ".nbrun/runs.db",
			RetentionDays: 0,
		},

		Watch: WatchConfig{
			Debounce:   "500ms",
			Extensions: []string{".in", ".txt", ".dat", ".params", ".nbody_comp"},
		},

		Batch: BatchConfig{
			MaxParallel: 4,
			StopOnError: false,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if kind := os.Getenv("NBRUN_ENGINE"); kind != "" {
		c.Engine.Kind = kind
	}
	if bin := os.Getenv("NBRUN_BINARY"); bin != "" {
		c.Engine.Binary = bin
	}
	if script := os.Getenv("NBRUN_SCRIPT"); script != "" {
		c.Engine.ScriptPath = script
	}
	if timeout := os.Getenv("NBRUN_TIMEOUT"); timeout != "" {
		c.Engine.DefaultTimeout = timeout
	}
	if path := os.Getenv("NBRUN_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if root := os.Getenv("NBRUN_OUTPUT_ROOT"); root != "" {
		c.Runs.OutputRoot = root
	}
	if input := os.Getenv("NBRUN_INPUT"); input != "" {
		c.Runs.DefaultInput = input
	}
	if par := os.Getenv("NBRUN_MAX_PARALLEL"); par != "" {
		if n, err := strconv.Atoi(par); err == nil && n > 0 {
			c.Batch.MaxParallel = n
		}
	}
	if debug := os.Getenv("NBRUN_DEBUG"); debug != "" {
		c.Logging.DebugMode = debug == "1" || debug == "true"
	}
}

// GetDefaultTimeout returns the engine timeout as a duration.
// Zero means no timeout is enforced.
func (c *Config) GetDefaultTimeout() time.Duration {
	if c.Engine.DefaultTimeout == "" || c.Engine.DefaultTimeout == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.Engine.DefaultTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetDebounce returns the watch debounce window as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidEngineKinds lists all supported engine kinds.
var ValidEngineKinds = []string{"process", "entry", "script"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validKind := false
	for _, k := range ValidEngineKinds {
		if c.Engine.Kind == k {
			validKind = true
			break
		}
	}
	if !validKind {
		return fmt.Errorf("invalid engine kind: %s (valid: %v)", c.Engine.Kind, ValidEngineKinds)
	}

	if c.Engine.Kind == "process" && c.Engine.Binary == "" {
		return fmt.Errorf("engine binary not configured (set engine.binary or NBRUN_BINARY)")
	}
	if c.Engine.Kind == "script" && c.Engine.ScriptPath == "" {
		return fmt.Errorf("engine script not configured (set engine.script_path or NBRUN_SCRIPT)")
	}

	if c.Engine.DefaultTimeout != "" && c.Engine.DefaultTimeout != "0" {
		if _, err := time.ParseDuration(c.Engine.DefaultTimeout); err != nil {
			return fmt.Errorf("invalid engine timeout %q: %w", c.Engine.DefaultTimeout, err)
		}
	}

	if c.Batch.MaxParallel < 1 {
		return fmt.Errorf("batch max_parallel must be at least 1, got %d", c.Batch.MaxParallel)
	}

	return nil
}

// WorkspaceDir returns the .nbrun directory under the workspace.
func WorkspaceDir(workspace string) string {
	return filepath.Join(workspace, ".nbrun")
}

// DefaultConfigPath returns the default path to .nbrun/config.yaml.
func DefaultConfigPath(workspace string) string {
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return filepath.Join(".nbrun", "config.yaml")
		}
		workspace = cwd
	}
	return filepath.Join(workspace, ".nbrun", "config.yaml")
}

// ResolveDatabasePath resolves the store database path against the workspace.
// Absolute paths are returned unchanged.
func (c *Config) ResolveDatabasePath(workspace string) string {
	if filepath.IsAbs(c.Store.DatabasePath) {
		return c.Store.DatabasePath
	}
	return filepath.Join(workspace, c.Store.DatabasePath)
}
