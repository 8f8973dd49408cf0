package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nbodyrun/internal/invoker"
)

const goodScript = `package main

import (
	"os"
	"strconv"
)

func EngineMain(argv []string) int {
	if len(argv) < 2 {
		return 2
	}
	if err := os.WriteFile("positions.out", []byte(argv[1]+"\n"), 0644); err != nil {
		return 1
	}
	if len(argv) > 2 {
		code, err := strconv.Atoi(argv[2])
		if err != nil {
			return 1
		}
		return code
	}
	return 0
}
`

func writeEngineScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.go")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func newTestScriptEngine(t *testing.T, content string) *ScriptEngine {
	t.Helper()
	e, err := NewScriptEngineWithInvoker(writeEngineScript(t, content), invoker.NewWithOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("NewScriptEngine failed: %v", err)
	}
	return e
}

func TestScriptEngineRunsScript(t *testing.T) {
	outputDir := t.TempDir()
	e := newTestScriptEngine(t, goodScript)

	result, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: outputDir,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Ok() {
		t.Fatalf("Expected success, got exit=%d", result.ExitCode)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "positions.out"))
	if err != nil {
		t.Fatalf("Script output not written to output dir: %v", err)
	}
	if strings.TrimSpace(string(data)) != "/data/galaxy.in" {
		t.Errorf("Script saw wrong input path: %q", string(data))
	}
}

func TestScriptEngineExitCodePassthrough(t *testing.T) {
	e := newTestScriptEngine(t, goodScript)

	result, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
		ExtraArgs: []string{"7"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("Expected exit code 7 passed through, got %d", result.ExitCode)
	}
}

func TestScriptEngineForbiddenImport(t *testing.T) {
	e := newTestScriptEngine(t, `package main

import "net/http"

func EngineMain(argv []string) int {
	_, _ = http.Get("http://example.com")
	return 0
}
`)

	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected engine Failure, got %v", err)
	}
	if failure.Stage != "validate" {
		t.Errorf("Expected validate stage, got %q", failure.Stage)
	}
	if !strings.Contains(err.Error(), "net/http") {
		t.Errorf("Error should name the forbidden import: %v", err)
	}
}

func TestScriptEngineMissingEngineMain(t *testing.T) {
	e := newTestScriptEngine(t, `package main

func SomethingElse() int { return 0 }
`)

	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected engine Failure, got %v", err)
	}
}

func TestScriptEngineWrongSignature(t *testing.T) {
	e := newTestScriptEngine(t, `package main

func EngineMain(n int) int { return n }
`)

	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected engine Failure, got %v", err)
	}
	if failure.Stage != "lookup" {
		t.Errorf("Expected lookup stage, got %q", failure.Stage)
	}
}

func TestScriptEngineMissingFile(t *testing.T) {
	_, err := NewScriptEngine(filepath.Join(t.TempDir(), "missing.go"))
	if err == nil {
		t.Fatal("Expected error for missing script file")
	}
}

func TestScriptEngineRereadsScript(t *testing.T) {
	path := writeEngineScript(t, `package main

func EngineMain(argv []string) int { return 1 }
`)
	e, err := NewScriptEngineWithInvoker(path, invoker.NewWithOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("NewScriptEngine failed: %v", err)
	}

	result, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 1 {
		t.Fatalf("Expected exit 1 from first version, got %d", result.ExitCode)
	}

	if err := os.WriteFile(path, []byte(`package main

func EngineMain(argv []string) int { return 2 }
`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result, err = e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 2 {
		t.Errorf("Expected edited script to take effect, got exit %d", result.ExitCode)
	}
}

func TestScriptEngineRejectsTimeout(t *testing.T) {
	e := newTestScriptEngine(t, goodScript)
	_, err := e.Run(context.Background(), Request{
		InputPath: "/data/galaxy.in",
		OutputDir: t.TempDir(),
		Timeout:   1,
	})
	if err == nil {
		t.Fatal("Expected error for timeout on script engine")
	}
}

func TestScriptEngineCapabilities(t *testing.T) {
	caps := newTestScriptEngine(t, goodScript).Capabilities()
	if caps.Name != "script" {
		t.Errorf("Expected name script, got %q", caps.Name)
	}
	if caps.SupportsTimeout || caps.SupportsConcurrent || caps.CapturesOutput {
		t.Errorf("Unexpected capabilities: %+v", caps)
	}
}
