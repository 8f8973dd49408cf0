package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"nbodyrun/internal/runs"
)

var (
	historyLimit  int
	historyStatus string
	historyInput  string
	historyJSON   bool
	pruneDays     int
)

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `Lists recent runs from the local history database, newest first.
With a run id (or a unique prefix of one), shows that run in full.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

// statsCmd summarizes the history database
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE:  showStats,
}

// pruneCmd deletes old history rows
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention window",
	RunE:  runPrune,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Max runs to list")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only runs with this status (success or error)")
	historyCmd.Flags().StringVar(&historyInput, "input", "", "Only runs of this input file")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Emit JSON instead of a table")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention window in days (default from config)")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	if len(args) == 1 {
		rec, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printRecord(rec)
	}

	var recs []*runs.Record
	switch {
	case historyInput != "":
		input, err := filepath.Abs(historyInput)
		if err != nil {
			return err
		}
		recs, err = st.ListRunsByInput(ctx, input, historyLimit)
		if err != nil {
			return err
		}
	case historyStatus != "":
		recs, err = st.ListRunsByStatus(ctx, runs.Status(historyStatus), historyLimit)
		if err != nil {
			return err
		}
	default:
		recs, err = st.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
	}

	if historyJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(recs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, rec := range recs {
		glyph := "✓"
		if !rec.Succeeded() {
			glyph = "✗"
		}
		fmt.Printf("%s %s  %-8s  code %-3d %8s  %s\n",
			glyph,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(rec.ID),
			rec.ExitCode,
			formatMillis(rec.DurationMs),
			filepath.Base(rec.InputPath))
	}
	return nil
}

// printRecord shows one run in full.
func printRecord(rec *runs.Record) error {
	if historyJSON {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run %s\n", rec.ID)
	fmt.Printf("Status:     %s\n", rec.Status)
	fmt.Printf("Engine:     %s\n", rec.Engine)
	fmt.Printf("Input:      %s\n", rec.InputPath)
	fmt.Printf("Output dir: %s\n", rec.OutputDir)
	fmt.Printf("Exit code:  %d\n", rec.ExitCode)
	fmt.Printf("Started:    %s\n", rec.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("Duration:   %s\n", formatMillis(rec.DurationMs))
	if rec.Killed {
		fmt.Printf("Killed:     %s\n", rec.KillReason)
	}
	if rec.Error != "" {
		fmt.Printf("Error:      %s\n", rec.Error)
	}
	fmt.Printf("Message:    %s\n", rec.Message)
	printOutputFiles(rec.OutputFiles, 0)
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Run Statistics")
	fmt.Println("==============")
	fmt.Printf("Total runs:   %d\n", stats.TotalRuns)
	fmt.Printf("Successful:   %d\n", stats.Successful)
	fmt.Printf("Failed:       %d\n", stats.Failed)
	if stats.TotalRuns > 0 {
		fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate*100)
		fmt.Printf("Avg duration: %s\n", formatMillis(int64(stats.AvgDurationMs)))
	}
	if len(stats.ByEngine) > 0 {
		engines := make([]string, 0, len(stats.ByEngine))
		for name := range stats.ByEngine {
			engines = append(engines, name)
		}
		sort.Strings(engines)
		fmt.Println("\nRuns by engine:")
		for _, name := range engines {
			fmt.Printf("  %-10s %d\n", name, stats.ByEngine[name])
		}
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	days := pruneDays
	if days <= 0 {
		days = cfg.Store.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention window required: pass --days or set store.retention_days")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pruned, err := st.PruneOlderThan(context.Background(), days)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d run(s) older than %d days\n", pruned, days)
	return nil
}

// shortID trims a run id down to its first group for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
