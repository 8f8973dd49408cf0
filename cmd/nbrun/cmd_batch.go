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

	"nbodyrun/internal/batch"
)

var (
	batchOutputRoot  string
	batchParallel    int
	batchStopOnError bool
	batchExtraArgs   []string
	batchTimeout     time.Duration
)

// batchCmd sweeps many input files
var batchCmd = &cobra.Command{
	Use:   "batch [inputs...]",
	Short: "Run a sweep over many input files",
	Long: `Runs every input file, each into its own directory under the output
root, named after the input's stem.

Globs are accepted, so a sweep over a parameter grid is one command:

  nbrun batch 'params/*.in' -o results --parallel 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutputRoot, "output-root", "o", "", "Parent directory for per-input output dirs")
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", 0, "Max simulations running at once (default from config)")
	batchCmd.Flags().BoolVar(&batchStopOnError, "stop-on-error", false, "Cancel the sweep after the first failure")
	batchCmd.Flags().StringArrayVar(&batchExtraArgs, "sim-arg", nil, "Extra argument passed to every simulation (repeatable)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "Kill each run after this long (0 = config default)")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, canceling sweep")
		cancel()
	}()

	inputs, err := batch.CollectInputs(args)
	if err != nil {
		return err
	}

	mgr, cleanup, err := newManager(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	outputRoot := batchOutputRoot
	if outputRoot == "" {
		outputRoot = cfg.Runs.OutputRoot
	}
	parallel := batchParallel
	if parallel <= 0 {
		parallel = cfg.Batch.MaxParallel
	}

	logger.Info("Starting sweep",
		zap.Int("inputs", len(inputs)),
		zap.Int("parallel", parallel),
		zap.String("output_root", outputRoot))

	fmt.Printf("Sweeping %d input file(s), up to %d at once\n", len(inputs), parallel)

	runner := batch.NewRunner(mgr, batch.Options{
		MaxParallel: parallel,
		StopOnError: batchStopOnError || cfg.Batch.StopOnError,
		OutputRoot:  outputRoot,
		ExtraArgs:   batchExtraArgs,
		Timeout:     batchTimeout,
	})

	res, sweepErr := runner.Sweep(ctx, inputs)
	if res == nil {
		return sweepErr
	}

	fmt.Println()
	fmt.Println("Sweep Results")
	fmt.Println("=============")
	for i, rec := range res.Records {
		name := filepath.Base(inputs[i])
		switch {
		case rec == nil:
			fmt.Printf("- %-30s skipped\n", name)
		case rec.Succeeded():
			fmt.Printf("✓ %-30s code %-3d %8s  %s\n", name, rec.ExitCode, formatMillis(rec.DurationMs), rec.OutputDir)
		default:
			fmt.Printf("✗ %-30s code %-3d %8s  %s\n", name, rec.ExitCode, formatMillis(rec.DurationMs), rec.OutputDir)
		}
	}
	fmt.Printf("\nTotal: %d  Succeeded: %d  Failed: %d  Skipped: %d  (took %s)\n",
		res.Total, res.Succeeded, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))

	if sweepErr != nil {
		return sweepErr
	}
	if res.Failed > 0 || res.Skipped > 0 {
		exitCode = 1
	}
	return nil
}

// formatMillis renders a millisecond count for result tables.
func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}
