package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbodyrun/internal/engine"
	"nbodyrun/internal/runs"
)

var (
	runOutputDir string
	runExtraArgs []string
	runTimeout   time.Duration
	runNoSave    bool
)

// runCmd executes one simulation
var runCmd = &cobra.Command{
	Use:   "run [input-file]",
	Short: "Run one simulation",
	Long: `Runs the simulation once with the given input file. Without an
argument the configured default input (runs.default_input) is used.

The output directory is created if missing and the simulation executes
inside it, so everything the simulation writes lands there. The
simulation's exit code becomes nbrun's exit code.

Example:
  nbrun run galaxy.nbody_comp -o results/galaxy`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulation,
}

func init() {
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory (default: current directory)")
	runCmd.Flags().StringArrayVar(&runExtraArgs, "sim-arg", nil, "Extra argument passed to the simulation (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Kill the run after this long (0 = config default)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not record the run in history")

	rootCmd.AddCommand(runCmd)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	input := cfg.Runs.DefaultInput
	if len(args) > 0 {
		input = args[0]
	}
	if input == "" {
		return fmt.Errorf("an input file is required: pass one or set runs.default_input")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, stopping simulation")
		cancel()
	}()

	// Relay whatever the simulation printed before reporting the verdict.
	relay := runs.WithResultHook(func(rec *runs.Record, res *engine.Result) {
		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		if res.Truncated {
			fmt.Println("(simulation output truncated)")
		}
	})

	mgr, cleanup, err := newManager(cfg, !runNoSave, relay)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("Running simulation",
		zap.String("input", input),
		zap.String("output_dir", runOutputDir),
		zap.String("engine", cfg.Engine.Kind))

	fmt.Printf("Input file: %s\n", input)
	if runOutputDir != "" {
		fmt.Printf("Output directory: %s\n", runOutputDir)
	} else {
		fmt.Println("Output directory: current directory")
	}
	fmt.Println("Starting simulation...")

	rec, err := mgr.Run(ctx, runs.RunSpec{
		InputPath: input,
		OutputDir: runOutputDir,
		ExtraArgs: runExtraArgs,
		Timeout:   runTimeout,
	})
	if err != nil {
		return err
	}

	fmt.Println(rec.Message)
	printOutputFiles(rec.OutputFiles, 5)
	if !runNoSave {
		fmt.Printf("Run ID: %s\n", rec.ID)
	}

	exitCode = rec.ExitCode
	return nil
}

// printOutputFiles lists discovered output files, at most max names.
func printOutputFiles(files []string, max int) {
	if len(files) == 0 {
		return
	}
	fmt.Printf("Created %d output file(s):\n", len(files))
	for i, f := range files {
		if max > 0 && i == max {
			fmt.Printf("  ... and %d more\n", len(files)-max)
			break
		}
		fmt.Printf("  - %s\n", filepath.Base(f))
	}
}
