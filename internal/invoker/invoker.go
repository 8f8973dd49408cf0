// Package invoker runs an in-process simulation entry point with the
// directory protocol the compiled engine expects: the process working
// directory is moved to the output directory for the duration of the
// call, so every relative path the engine writes lands there.
//
// The working directory is process-global state, so invocations are
// serialized across all Invoker values in the process.
package invoker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"nbodyrun/internal/logging"
)

// ProgramName is the argv[0] the engine entry point sees. The compiled
// simulation only uses it for usage messages.
const ProgramName = "nbody_comp"

// EntryFunc is a simulation engine entry point. It receives the full
// argv, including the program name, and returns the process-style exit
// code: 0 for success, non-zero for failure.
type EntryFunc func(argv []string) int

// Request describes one invocation.
type Request struct {
	// InputPath is handed to the engine unchanged. The engine opens it
	// after the working directory has moved to OutputDir, so relative
	// paths resolve against the output directory.
	InputPath string

	// OutputDir is where the engine runs. It must already exist.
	OutputDir string

	// ExtraArgs are appended to argv after the input path.
	ExtraArgs []string
}

// Argv builds the argument vector for the entry point.
func (r Request) Argv() []string {
	argv := make([]string, 0, 2+len(r.ExtraArgs))
	argv = append(argv, ProgramName, r.InputPath)
	argv = append(argv, r.ExtraArgs...)
	return argv
}

// chdirSem serializes invocations process-wide. A mutex would also
// serialize, but the semaphore lets a waiting caller give up when its
// context is canceled.
var chdirSem = make(chan struct{}, 1)

// invocations counts completed invocations, for diagnostics.
var invocations atomic.Int64

// Invoker executes entry points under the directory protocol and
// reports progress on a console writer.
type Invoker struct {
	out io.Writer
}

// New returns an Invoker reporting to stdout.
func New() *Invoker {
	return &Invoker{out: os.Stdout}
}

// NewWithOutput returns an Invoker reporting to w.
func NewWithOutput(w io.Writer) *Invoker {
	return &Invoker{out: w}
}

// Invoke runs entry under the directory protocol and returns its exit
// code. The code is returned unmodified, whatever its value.
//
// The returned error is non-nil only when the entry point never ran:
// invalid arguments, context cancellation while waiting for an earlier
// invocation, or an EnvironmentError from the directory protocol. In
// those cases the code is -1.
//
// The original working directory is restored even if entry panics. A
// restore failure is reported as a console warning, never as an error.
func (inv *Invoker) Invoke(ctx context.Context, entry EntryFunc, req Request) (int, error) {
	if entry == nil {
		return -1, fmt.Errorf("entry function required")
	}
	if req.InputPath == "" {
		return -1, fmt.Errorf("input file path required")
	}
	if req.OutputDir == "" {
		return -1, fmt.Errorf("output directory required")
	}

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	waitTimer := logging.StartTimer(logging.CategoryInvoker, "invocation slot wait")
	select {
	case chdirSem <- struct{}{}:
	case <-ctx.Done():
		logging.InvokerDebug("gave up waiting for invocation slot: %v", ctx.Err())
		return -1, ctx.Err()
	}
	defer func() { <-chdirSem }()
	waitTimer.Stop()

	fmt.Fprintln(inv.out, "N-body simulation starting...")
	fmt.Fprintf(inv.out, "Input file: %s\n", req.InputPath)
	fmt.Fprintf(inv.out, "Output directory: %s\n", req.OutputDir)

	originalDir, err := os.Getwd()
	if err != nil {
		logging.InvokerError("getwd failed: %v", err)
		return -1, &EnvironmentError{Op: OpGetwd, Err: err}
	}

	if err := os.Chdir(req.OutputDir); err != nil {
		logging.InvokerError("chdir to %s failed: %v", req.OutputDir, err)
		return -1, &EnvironmentError{Op: OpChdir, Path: req.OutputDir, Err: err}
	}

	logging.Invoker("invoking engine: input=%s output=%s", req.InputPath, req.OutputDir)
	logging.InvokerDebug("argv: %v", req.Argv())

	// The closure scopes the restore so it runs before the completion
	// message, and runs even if the entry point panics.
	var code int
	func() {
		defer func() {
			if err := os.Chdir(originalDir); err != nil {
				fmt.Fprintln(inv.out, "Warning: Could not restore original directory")
				logging.InvokerWarn("could not restore %s: %v", originalDir, err)
			}
		}()
		code = entry(req.Argv())
	}()

	invocations.Add(1)
	fmt.Fprintf(inv.out, "N-body simulation completed with return code: %d\n", code)
	logging.Invoker("engine returned %d", code)

	return code, nil
}

// Invocations reports how many invocations have completed in this
// process.
func Invocations() int64 {
	return invocations.Load()
}
