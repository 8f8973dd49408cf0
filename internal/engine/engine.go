// Package engine abstracts how a simulation gets executed. The compiled
// N-body code is normally run as a subprocess (ProcessEngine), but the
// same contract is satisfied by in-process entry points (EntryEngine)
// and interpreted Go scripts (ScriptEngine), so callers never care which
// kind of engine is behind a run.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Request describes one simulation run.
type Request struct {
	// InputPath is the simulation input file, passed to the engine
	// unchanged as its first real argument.
	InputPath string

	// OutputDir is where the engine runs and writes its files. It must
	// already exist.
	OutputDir string

	// ExtraArgs are appended to the engine argv after the input path.
	ExtraArgs []string

	// Env holds extra KEY=VALUE pairs for the engine process. Only
	// subprocess engines can honor this.
	Env []string

	// Timeout bounds the run. Zero means unlimited. Only subprocess
	// engines can honor this.
	Timeout time.Duration

	// MaxOutputBytes caps captured bytes per output stream. Zero picks
	// the engine default.
	MaxOutputBytes int64
}

// Result reports what one run did.
type Result struct {
	// ExitCode is the engine's own verdict, passed through unmodified.
	// It is -1 when the engine never exited on its own (killed).
	ExitCode int `json:"exit_code"`

	// Captured output. Empty for in-process engines, which write to the
	// real stdout/stderr.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// Timing
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// Truncation of captured output
	Truncated      bool  `json:"truncated,omitempty"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Killed is set when the run was stopped from outside (timeout or
	// cancellation) rather than exiting on its own.
	Killed     bool   `json:"killed,omitempty"`
	KillReason string `json:"kill_reason,omitempty"`
}

// Ok reports whether the engine ran to completion and succeeded.
func (r *Result) Ok() bool {
	return !r.Killed && r.ExitCode == 0
}

// Failed reports whether the run failed or was killed.
func (r *Result) Failed() bool {
	return !r.Ok()
}

// Capabilities describes what an engine can and cannot do.
type Capabilities struct {
	// Name identifies the engine in run records and logs.
	Name string

	// SupportsTimeout is set when Request.Timeout is honored.
	SupportsTimeout bool

	// SupportsConcurrent is set when overlapping Run calls are safe.
	// In-process engines move the process working directory and must
	// serialize.
	SupportsConcurrent bool

	// CapturesOutput is set when Result.Stdout/Stderr are populated.
	CapturesOutput bool
}

// Engine executes simulation runs.
//
// Run returns a Result whenever the engine itself got a verdict, even a
// failing one: a non-zero exit code or a kill is a Result, not an error.
// The error return is reserved for runs that never produced a verdict,
// such as a binary that could not be started, an invalid output
// directory, or a script that failed to compile.
type Engine interface {
	Capabilities() Capabilities
	Validate(req Request) error
	Run(ctx context.Context, req Request) (*Result, error)
}

// Failure reports an engine that could not produce a verdict.
type Failure struct {
	Engine string // engine name
	Stage  string // what was being attempted
	Err    error  // underlying cause
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s engine %s: %v", f.Engine, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// validateRequest checks the fields every engine requires.
func validateRequest(req Request) error {
	if req.InputPath == "" {
		return fmt.Errorf("input file path required")
	}
	if req.OutputDir == "" {
		return fmt.Errorf("output directory required")
	}
	return nil
}
