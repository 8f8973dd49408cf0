package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbodyrun/internal/config"
)

// captureOutput redirects stdout and stderr while fn runs.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}

// testWorkspace points the global flags at a temp workspace.
func testWorkspace(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	ws := t.TempDir()
	workspace = ws
	t.Cleanup(func() {
		workspace = ""
		configPath = ""
		engineKind = ""
		binaryPath = ""
	})
	return ws
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	testWorkspace(t)
	engineKind = "process"
	binaryPath = "/opt/sim/nbody_comp"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Engine.Kind != "process" {
		t.Errorf("kind = %q", cfg.Engine.Kind)
	}
	if cfg.Engine.Binary != "/opt/sim/nbody_comp" {
		t.Errorf("binary = %q", cfg.Engine.Binary)
	}
}

func TestLoadConfigRejectsBadKind(t *testing.T) {
	testWorkspace(t)
	engineKind = "fortran"

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected invalid engine kind error")
	}
}

func TestBuildEngineUnknownKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Kind = "bogus"

	if _, err := buildEngine(cfg); err == nil {
		t.Fatal("expected unknown engine kind error")
	}
}

func TestBuildEngineEntryNeedsEmbedding(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Kind = "entry"

	_, err := buildEngine(cfg)
	if err == nil || !strings.Contains(err.Error(), "compiled-in") {
		t.Fatalf("error = %v, want compiled-in hint", err)
	}
}

func TestBuildEngineProcess(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Binary = "/opt/sim/nbody_comp"

	eng, err := buildEngine(cfg)
	if err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	if eng.Capabilities().Name != "process" {
		t.Errorf("engine = %q, want process", eng.Capabilities().Name)
	}
}

func TestConfigInit(t *testing.T) {
	ws := testWorkspace(t)

	output := captureOutput(t, func() {
		if err := configInitCmd.RunE(&cobra.Command{}, nil); err != nil {
			t.Errorf("config init: %v", err)
		}
	})
	if !strings.Contains(output, "Wrote default config") {
		t.Errorf("output = %q", output)
	}
	if _, err := os.Stat(filepath.Join(ws, ".nbrun", "config.yaml")); err != nil {
		t.Errorf("config file missing: %v", err)
	}

	// A second init must not clobber the existing file.
	output = captureOutput(t, func() {
		if err := configInitCmd.RunE(&cobra.Command{}, nil); err != nil {
			t.Errorf("config init again: %v", err)
		}
	})
	if !strings.Contains(output, "already exists") {
		t.Errorf("output = %q", output)
	}
}

func TestConfigShow(t *testing.T) {
	testWorkspace(t)

	output := captureOutput(t, func() {
		if err := configShowCmd.RunE(&cobra.Command{}, nil); err != nil {
			t.Errorf("config show: %v", err)
		}
	})
	if !strings.Contains(output, "engine:") || !strings.Contains(output, "nbody_comp") {
		t.Errorf("output = %q", output)
	}
}

func TestShowHistoryEmpty(t *testing.T) {
	testWorkspace(t)

	output := captureOutput(t, func() {
		if err := showHistory(&cobra.Command{}, nil); err != nil {
			t.Errorf("showHistory: %v", err)
		}
	})
	if !strings.Contains(output, "No runs recorded yet") {
		t.Errorf("output = %q", output)
	}
}

func TestShowStatus(t *testing.T) {
	testWorkspace(t)

	output := captureOutput(t, func() {
		if err := showStatus(&cobra.Command{}, nil); err != nil {
			t.Errorf("showStatus: %v", err)
		}
	})
	if !strings.Contains(output, "nbrun Status") {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, "Engine:    process") {
		t.Errorf("output = %q", output)
	}
}

func TestRunSimulationMissingInput(t *testing.T) {
	testWorkspace(t)
	runNoSave = true
	defer func() { runNoSave = false }()

	var err error
	captureOutput(t, func() {
		err = runSimulation(&cobra.Command{}, []string{"does-not-exist.in"})
	})
	if err == nil || !strings.Contains(err.Error(), "input file not found") {
		t.Fatalf("error = %v, want input file not found", err)
	}
}

func TestRunSimulationNoInputConfigured(t *testing.T) {
	testWorkspace(t)

	err := runSimulation(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "input file is required") {
		t.Fatalf("error = %v, want input file is required", err)
	}
}

func TestPruneRequiresWindow(t *testing.T) {
	testWorkspace(t)

	err := runPrune(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "retention window") {
		t.Fatalf("error = %v, want retention window error", err)
	}
}

func TestPrintOutputFilesTruncates(t *testing.T) {
	files := []string{"/r/a.out", "/r/b.out", "/r/c.out", "/r/d.out", "/r/e.out", "/r/f.out", "/r/g.out"}

	output := captureOutput(t, func() { printOutputFiles(files, 5) })
	if !strings.Contains(output, "Created 7 output file(s):") {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, "... and 2 more") {
		t.Errorf("output = %q", output)
	}
	if strings.Contains(output, "f.out") {
		t.Errorf("listed past the cap: %q", output)
	}

	output = captureOutput(t, func() { printOutputFiles(files, 0) })
	if !strings.Contains(output, "g.out") {
		t.Errorf("uncapped listing missing files: %q", output)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0b51886f-3a71-4e29-b0fc-8f9e44f21f3e"); got != "0b51886f" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("tiny"); got != "tiny" {
		t.Errorf("shortID = %q", got)
	}
}
