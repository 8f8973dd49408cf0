package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"nbodyrun/internal/invoker"
	"nbodyrun/internal/logging"
)

// ScriptEngine interprets a Go source file as the simulation engine, so
// an engine can be swapped or prototyped without recompiling this
// binary. The script must define
//
//	func EngineMain(argv []string) int
//
// in package main. It runs under the same directory protocol as a
// linked-in entry point: the working directory is the output directory,
// argv[0] is the program name, argv[1] the input file.
//
// The script is re-read on every run, so edits take effect immediately.
// Interpreted runs cannot be timed out; a stuck script would keep the
// working directory hijacked if it were abandoned mid-run.
type ScriptEngine struct {
	scriptPath string
	inv        *invoker.Invoker

	// Whitelist of allowed script imports
	allowedPackages map[string]bool
}

// NewScriptEngine creates a script engine for the given source file.
func NewScriptEngine(scriptPath string) (*ScriptEngine, error) {
	return NewScriptEngineWithInvoker(scriptPath, invoker.New())
}

// NewScriptEngineWithInvoker creates a script engine with a custom
// invoker, used to redirect console diagnostics.
func NewScriptEngineWithInvoker(scriptPath string, inv *invoker.Invoker) (*ScriptEngine, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("script path required")
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("engine script: %w", err)
	}
	return &ScriptEngine{
		scriptPath: scriptPath,
		inv:        inv,
		allowedPackages: map[string]bool{
			// I/O a simulation needs
			"bufio":         true,
			"fmt":           true,
			"io":            true,
			"os":            true,
			"path/filepath": true,
			"encoding/csv":  true,

			// Number crunching
			"math":      true,
			"math/rand": true,
			"sort":      true,

			// Text handling
			"strings": true,
			"strconv": true,

			"errors": true,
			"time":   true,

			// EXPLICITLY BLOCKED (unsafe packages):
			// "os/exec" - command execution
			// "net", "net/http" - network access
			// "syscall" - system calls
			// "unsafe" - unsafe operations
		},
	}, nil
}

// Capabilities returns what this engine supports.
func (e *ScriptEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:               "script",
		SupportsTimeout:    false,
		SupportsConcurrent: false,
		CapturesOutput:     false,
	}
}

// Validate checks whether a request can run as a script.
func (e *ScriptEngine) Validate(req Request) error {
	if req.Timeout > 0 {
		return fmt.Errorf("script engine cannot enforce a timeout, use the process engine")
	}
	if len(req.Env) > 0 {
		return fmt.Errorf("script engine cannot scope environment variables, use the process engine")
	}
	return validateRequest(req)
}

// Run compiles the script and invokes its EngineMain under the
// directory protocol.
func (e *ScriptEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := e.Validate(req); err != nil {
		logging.EngineWarn("Request validation failed: %v", err)
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryScript, "script compile")
	entry, err := e.compile()
	timer.Stop()
	if err != nil {
		logging.ScriptError("Compile failed for %s: %v", e.scriptPath, err)
		return nil, err
	}

	logging.Script("Running engine script %s", e.scriptPath)

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	var code int
	func() {
		// The invoker restores the working directory before a panic
		// unwinds to here, so recovering is safe.
		defer func() {
			if r := recover(); r != nil {
				err = &Failure{Engine: "script", Stage: "run", Err: fmt.Errorf("script panic: %v", r)}
			}
		}()
		code, err = e.inv.Invoke(ctx, entry, invoker.Request{
			InputPath: req.InputPath,
			OutputDir: req.OutputDir,
			ExtraArgs: req.ExtraArgs,
		})
	}()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		logging.ScriptError("Script run failed: %v", err)
		return nil, err
	}

	result.ExitCode = code
	logging.Script("Script run completed: exit=%d duration=%s", result.ExitCode, result.Duration)
	return result, nil
}

// compile loads the script, validates its imports, and extracts its
// EngineMain as an entry function.
func (e *ScriptEngine) compile() (invoker.EntryFunc, error) {
	data, err := os.ReadFile(e.scriptPath)
	if err != nil {
		return nil, &Failure{Engine: "script", Stage: "load", Err: err}
	}
	code := string(data)

	if err := e.validateImports(code); err != nil {
		return nil, &Failure{Engine: "script", Stage: "validate", Err: err}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &Failure{Engine: "script", Stage: "interp", Err: fmt.Errorf("failed to load stdlib: %w", err)}
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, &Failure{Engine: "script", Stage: "compile", Err: err}
	}

	v, err := i.Eval("main.EngineMain")
	if err != nil {
		return nil, &Failure{Engine: "script", Stage: "lookup", Err: fmt.Errorf("EngineMain function not found: %w", err)}
	}

	fn, ok := v.Interface().(func([]string) int)
	if !ok {
		return nil, &Failure{Engine: "script", Stage: "lookup",
			Err: fmt.Errorf("EngineMain has incorrect signature (expected: func([]string) int)")}
	}

	return invoker.EntryFunc(fn), nil
}

// validateImports checks that the script only imports allowed packages.
func (e *ScriptEngine) validateImports(code string) error {
	lines := strings.Split(code, "\n")
	var imports []string

	inImportBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock && strings.HasPrefix(trimmed, ")") {
			inImportBlock = false
			continue
		}

		if inImportBlock {
			pkg := strings.Trim(trimmed, `"`)
			imports = append(imports, pkg)
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.TrimPrefix(trimmed, "import ")
			pkg = strings.Trim(pkg, `"`)
			imports = append(imports, pkg)
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg == "" {
			continue
		}
		if !e.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}

	return nil
}

// wrapCode wraps the script in a main package if needed.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return fmt.Sprintf("package main\n\n%s\n", code)
}
