package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nbodyrun/internal/config"
	"nbodyrun/internal/engine"
	"nbodyrun/internal/logging"
	"nbodyrun/internal/runs"
	"nbodyrun/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	engineKind string
	binaryPath string

	// Logger
	logger *zap.Logger

	// exitCode is what the process exits with after a clean Execute.
	// The run command sets it to the simulation's own exit code.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nbrun",
	Short: "nbrun - N-body simulation runner",
	Long: `nbrun wraps a compiled N-body simulation behind a small CLI.

It runs simulations into per-run output directories, records every run in
a local history database, sweeps whole parameter grids in parallel, and
can watch a directory of input files and re-run on change.

The simulation itself stays opaque: nbrun hands it an input file and a
working directory, then passes its exit code through untouched.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("Category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.nbrun/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&engineKind, "engine", "", "Engine override: process, entry, or script")
	rootCmd.PersistentFlags().StringVar(&binaryPath, "binary", "", "Simulation binary override for the process engine")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// resolveWorkspace returns the workspace directory, defaulting to the
// current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// resolveConfigPath returns the config file path the CLI should use.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath(resolveWorkspace())
}

// loadConfig loads the effective configuration: the config file when one
// exists, then command-line overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if engineKind != "" {
		cfg.Engine.Kind = engineKind
	}
	if binaryPath != "" {
		cfg.Engine.Binary = binaryPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine constructs the engine the configuration names.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case "process":
		pc := engine.DefaultProcessConfig()
		pc.Binary = cfg.Engine.Binary
		pc.DefaultTimeout = cfg.GetDefaultTimeout()
		if cfg.Engine.MaxOutputBytes > 0 {
			pc.MaxOutputBytes = cfg.Engine.MaxOutputBytes
		}
		pc.AllowedEnvironment = cfg.Engine.AllowedEnvVars
		pc.ExtraArgs = cfg.Engine.ExtraArgs
		return engine.NewProcessEngineWithConfig(pc), nil
	case "script":
		return engine.NewScriptEngine(cfg.Engine.ScriptPath)
	case "entry":
		return nil, fmt.Errorf("the entry engine needs a compiled-in entry function; embed nbodyrun as a library to use it")
	default:
		return nil, fmt.Errorf("unknown engine kind: %s", cfg.Engine.Kind)
	}
}

// newManager builds a run manager for the configured engine, backed by the
// run store unless save is false. The returned cleanup closes the store.
func newManager(cfg *config.Config, save bool, extra ...runs.Option) (*runs.Manager, func(), error) {
	eng, err := buildEngine(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []runs.Option{runs.WithOutputPatterns(cfg.Runs.OutputPatterns)}
	cleanup := func() {}

	if save {
		st, err := openStore(cfg)
		if err != nil {
			logger.Warn("Run history unavailable", zap.Error(err))
		} else {
			opts = append(opts, runs.WithStore(st))
			cleanup = func() { _ = st.Close() }
		}
	}
	opts = append(opts, extra...)

	return runs.NewManager(eng, opts...), cleanup, nil
}

// openStore opens the run history database.
func openStore(cfg *config.Config) (*store.RunStore, error) {
	return store.NewRunStore(cfg.ResolveDatabasePath(resolveWorkspace()))
}
