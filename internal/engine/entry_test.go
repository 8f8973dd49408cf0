package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nbodyrun/internal/invoker"
)

func newTestEntryEngine(name string, entry invoker.EntryFunc) *EntryEngine {
	return NewEntryEngineWithInvoker(name, entry, invoker.NewWithOutput(&bytes.Buffer{}))
}

func TestEntryEngineRunsUnderDirectoryProtocol(t *testing.T) {
	outputDir := t.TempDir()
	before, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}

	var entryWd string
	var gotArgv []string
	e := newTestEntryEngine("fake", func(argv []string) int {
		entryWd, _ = os.Getwd()
		gotArgv = append([]string(nil), argv...)
		return 5
	})

	result, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: outputDir,
		ExtraArgs: []string{"--steps", "100"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ExitCode != 5 {
		t.Errorf("Expected exit code 5 passed through, got %d", result.ExitCode)
	}
	wantWd, _ := filepath.EvalSymlinks(outputDir)
	gotWd, _ := filepath.EvalSymlinks(entryWd)
	if gotWd != wantWd {
		t.Errorf("Entry ran in %s, want %s", entryWd, outputDir)
	}
	if after, _ := os.Getwd(); after != before {
		t.Errorf("Working directory not restored: %s", after)
	}
	if len(gotArgv) != 4 || gotArgv[0] != invoker.ProgramName || gotArgv[1] != "/data/galaxy.in" {
		t.Errorf("Unexpected argv: %v", gotArgv)
	}
	if result.Duration < 0 || result.FinishedAt.Before(result.StartedAt) {
		t.Error("Result timing inconsistent")
	}
}

func TestEntryEngineRejectsTimeout(t *testing.T) {
	e := newTestEntryEngine("fake", func([]string) int { return 0 })
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
		Timeout:   time.Second,
	})
	if err == nil {
		t.Fatal("Expected error for timeout on in-process engine")
	}
}

func TestEntryEngineRejectsEnv(t *testing.T) {
	e := newTestEntryEngine("fake", func([]string) int { return 0 })
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
		Env:       []string{"X=1"},
	})
	if err == nil {
		t.Fatal("Expected error for env on in-process engine")
	}
}

func TestEntryEngineNilEntry(t *testing.T) {
	e := newTestEntryEngine("fake", nil)
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("Expected error for nil entry")
	}
}

func TestEntryEnginePanicBecomesFailure(t *testing.T) {
	before, _ := os.Getwd()

	e := newTestEntryEngine("crashy", func([]string) int {
		panic("numerical instability")
	})
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected engine Failure, got %v", err)
	}
	if failure.Engine != "crashy" {
		t.Errorf("Expected crashy engine failure, got %q", failure.Engine)
	}
	if after, _ := os.Getwd(); after != before {
		t.Errorf("Working directory not restored after panic: %s", after)
	}
}

func TestEntryEngineEnvironmentErrorPassthrough(t *testing.T) {
	e := newTestEntryEngine("fake", func([]string) int { return 0 })
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: filepath.Join(t.TempDir(), "missing"),
	})

	var envErr *invoker.EnvironmentError
	if !errors.As(err, &envErr) {
		t.Fatalf("Expected EnvironmentError, got %v", err)
	}
}

func TestEntryEngineCapabilities(t *testing.T) {
	caps := newTestEntryEngine("fake", func([]string) int { return 0 }).Capabilities()
	if caps.Name != "fake" {
		t.Errorf("Expected name fake, got %q", caps.Name)
	}
	if caps.SupportsTimeout || caps.SupportsConcurrent || caps.CapturesOutput {
		t.Errorf("Unexpected capabilities: %+v", caps)
	}

	caps = newTestEntryEngine("", func([]string) int { return 0 }).Capabilities()
	if caps.Name != "entry" {
		t.Errorf("Expected default name entry, got %q", caps.Name)
	}
}
