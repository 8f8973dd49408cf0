package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// statusCmd reports what nbrun can see of its environment
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nbrun status",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("nbrun Status")
	fmt.Println("============")
	fmt.Printf("Version:   %s\n", cfg.Version)
	fmt.Printf("Workspace: %s\n", resolveWorkspace())
	fmt.Printf("Engine:    %s\n", cfg.Engine.Kind)
	fmt.Println()

	switch cfg.Engine.Kind {
	case "process":
		if path, err := exec.LookPath(cfg.Engine.Binary); err == nil {
			fmt.Printf("✓ Simulation binary: %s\n", path)
		} else {
			fmt.Printf("✗ Simulation binary not found: %s\n", cfg.Engine.Binary)
		}
	case "script":
		if _, err := os.Stat(cfg.Engine.ScriptPath); err == nil {
			fmt.Printf("✓ Engine script: %s\n", cfg.Engine.ScriptPath)
		} else {
			fmt.Printf("✗ Engine script not found: %s\n", cfg.Engine.ScriptPath)
		}
	case "entry":
		fmt.Println("✓ Entry engine (compiled in)")
	}

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("✓ Config file: %s\n", cfgPath)
	} else {
		fmt.Printf("- Config file: none (using defaults, run 'nbrun config init')\n")
	}

	dbPath := cfg.ResolveDatabasePath(resolveWorkspace())
	if _, err := os.Stat(dbPath); err == nil {
		st, err := openStore(cfg)
		if err != nil {
			fmt.Printf("✗ Run history unreadable: %v\n", err)
		} else {
			defer st.Close()
			if stats, err := st.Stats(context.Background()); err == nil {
				fmt.Printf("✓ Run history: %d run(s) in %s\n", stats.TotalRuns, dbPath)
			} else {
				fmt.Printf("✗ Run history unreadable: %v\n", err)
			}
		}
	} else {
		fmt.Printf("- Run history: empty (no database yet at %s)\n", dbPath)
	}

	if timeout := cfg.GetDefaultTimeout(); timeout > 0 {
		fmt.Printf("  Default timeout: %s\n", timeout)
	} else {
		fmt.Println("  Default timeout: unlimited")
	}
	return nil
}
