package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbodyrun/internal/runs"
	"nbodyrun/internal/watch"
)

var (
	watchOutputRoot string
	watchDebounce   time.Duration
	watchRunAll     bool
	watchExtraArgs  []string
	watchTimeout    time.Duration
)

// watchCmd re-runs the simulation when input files change
var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and re-run on input changes",
	Long: `Watches a directory of input files and re-runs the simulation when a
file settles after a change. Each input writes into its own directory
under the output root.

Press Ctrl+C to stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputRoot, "output-root", "o", "", "Parent directory for per-input output dirs")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "How long a file must sit quiet before it runs (0 = config default)")
	watchCmd.Flags().BoolVar(&watchRunAll, "run-all", false, "Run every existing input once before watching")
	watchCmd.Flags().StringArrayVar(&watchExtraArgs, "sim-arg", nil, "Extra argument passed to every simulation (repeatable)")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Kill each run after this long (0 = config default)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	mgr, cleanup, err := newManager(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	outputRoot := watchOutputRoot
	if outputRoot == "" {
		outputRoot = cfg.Runs.OutputRoot
	}
	debounce := watchDebounce
	if debounce <= 0 {
		debounce = cfg.GetDebounce()
	}

	watcher, err := watch.NewInputWatcher(mgr, watch.Options{
		WatchDir:   dir,
		OutputRoot: outputRoot,
		Extensions: cfg.Watch.Extensions,
		Debounce:   debounce,
		ExtraArgs:  watchExtraArgs,
		Timeout:    watchTimeout,
		OnRun: func(rec *runs.Record) {
			glyph := "✓"
			if !rec.Succeeded() {
				glyph = "✗"
			}
			fmt.Printf("%s [%s] %s (%d output files)\n",
				glyph, time.Now().Format("15:04:05"), rec.Message, len(rec.OutputFiles))
		},
	})
	if err != nil {
		return err
	}

	if err := watcher.Start(context.Background()); err != nil {
		return err
	}

	logger.Info("Watching for input changes",
		zap.String("dir", dir),
		zap.String("output_root", outputRoot),
		zap.Duration("debounce", debounce))

	if watchRunAll {
		fmt.Println("Running existing inputs...")
		if err := watcher.RunAll(context.Background()); err != nil {
			logger.Warn("Initial pass failed", zap.Error(err))
		}
	}

	fmt.Printf("Watching %s for input changes. Press Ctrl+C to stop.\n", dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	fmt.Println("\nStopping watcher...")
	watcher.Stop()

	stats := watcher.GetStats()
	fmt.Printf("Saw %d created, %d modified, %d deleted; triggered %d run(s)\n",
		stats.FilesCreated, stats.FilesModified, stats.FilesDeleted, stats.RunsTriggered)
	return nil
}
