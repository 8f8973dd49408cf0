package engine

import (
	"context"
	"fmt"
	"time"

	"nbodyrun/internal/invoker"
	"nbodyrun/internal/logging"
)

// EntryEngine runs a simulation entry point linked into this process.
// The invoker moves the process working directory to the output
// directory for the duration of the call, so runs serialize and cannot
// be timed out. Use a ProcessEngine when either matters.
type EntryEngine struct {
	name  string
	entry invoker.EntryFunc
	inv   *invoker.Invoker
}

// NewEntryEngine creates an engine around an in-process entry point.
// The name identifies this engine in run records.
func NewEntryEngine(name string, entry invoker.EntryFunc) *EntryEngine {
	return NewEntryEngineWithInvoker(name, entry, invoker.New())
}

// NewEntryEngineWithInvoker creates an entry engine with a custom
// invoker, used to redirect console diagnostics.
func NewEntryEngineWithInvoker(name string, entry invoker.EntryFunc, inv *invoker.Invoker) *EntryEngine {
	if name == "" {
		name = "entry"
	}
	return &EntryEngine{name: name, entry: entry, inv: inv}
}

// Capabilities returns what this engine supports.
func (e *EntryEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:               e.name,
		SupportsTimeout:    false,
		SupportsConcurrent: false,
		CapturesOutput:     false,
	}
}

// Validate checks whether a request can run in-process.
func (e *EntryEngine) Validate(req Request) error {
	if e.entry == nil {
		return fmt.Errorf("entry function is required")
	}
	if req.Timeout > 0 {
		return fmt.Errorf("in-process engine cannot enforce a timeout, use the process engine")
	}
	if len(req.Env) > 0 {
		return fmt.Errorf("in-process engine cannot scope environment variables, use the process engine")
	}
	return validateRequest(req)
}

// Run invokes the entry point under the directory protocol.
func (e *EntryEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := e.Validate(req); err != nil {
		logging.EngineWarn("Request validation failed: %v", err)
		return nil, err
	}

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	var code int
	var err error
	func() {
		// The invoker restores the working directory before a panic
		// unwinds to here, so recovering is safe.
		defer func() {
			if r := recover(); r != nil {
				err = &Failure{Engine: e.name, Stage: "run", Err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		code, err = e.inv.Invoke(ctx, e.entry, invoker.Request{
			InputPath: req.InputPath,
			OutputDir: req.OutputDir,
			ExtraArgs: req.ExtraArgs,
		})
	}()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		logging.EngineError("In-process run failed: %v", err)
		return nil, err
	}

	result.ExitCode = code
	logging.Engine("In-process run completed: exit=%d duration=%s", result.ExitCode, result.Duration)
	return result, nil
}
