package invoker

import "fmt"

// Directory operations that can fail during an invocation.
const (
	OpGetwd = "getwd"
	OpChdir = "chdir"
)

// EnvironmentError reports a working-directory failure before an engine
// entry point could run. The entry point is never called when one of
// these is returned.
type EnvironmentError struct {
	Op   string // OpGetwd or OpChdir
	Path string // directory involved, empty for getwd
	Err  error  // underlying cause
}

func (e *EnvironmentError) Error() string {
	switch e.Op {
	case OpChdir:
		return fmt.Sprintf("cannot change to output directory %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("cannot get current directory: %v", e.Err)
	}
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}
