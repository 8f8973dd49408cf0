package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"nbodyrun/internal/invoker"
	"nbodyrun/internal/logging"
)

// ProcessConfig configures a ProcessEngine.
type ProcessConfig struct {
	// Binary is the compiled simulation executable.
	Binary string

	// DefaultTimeout applies when a request has none. Zero means
	// unlimited, which is the norm for long simulations.
	DefaultTimeout time.Duration

	// MaxTimeout caps any requested timeout. Zero means uncapped.
	MaxTimeout time.Duration

	// MaxOutputBytes caps captured bytes per stream when a request has
	// no cap of its own.
	MaxOutputBytes int64

	// AllowedEnvironment lists variables passed through from the parent
	// process.
	AllowedEnvironment []string

	// ExtraArgs are appended to every run's argv before the request's
	// own extra arguments.
	ExtraArgs []string
}

// DefaultProcessConfig returns a config suitable for a compiled N-body
// binary on PATH.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Binary:         invoker.ProgramName,
		DefaultTimeout: 0,
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedEnvironment: []string{
			"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL",
		},
	}
}

// Merge fills request defaults from the config.
func (c ProcessConfig) Merge(req Request) Request {
	if req.Timeout == 0 {
		req.Timeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && req.Timeout > c.MaxTimeout {
		req.Timeout = c.MaxTimeout
	}
	if req.MaxOutputBytes == 0 {
		req.MaxOutputBytes = c.MaxOutputBytes
	}
	if len(c.ExtraArgs) > 0 {
		req.ExtraArgs = append(append([]string(nil), c.ExtraArgs...), req.ExtraArgs...)
	}
	return req
}

// ProcessEngine runs the simulation binary as a subprocess. The
// subprocess gets its own working directory, so runs can overlap and a
// timeout can kill a runaway simulation without touching this process.
type ProcessEngine struct {
	mu     sync.RWMutex
	config ProcessConfig
}

// NewProcessEngine creates a process engine for the given binary with
// default config.
func NewProcessEngine(binary string) *ProcessEngine {
	cfg := DefaultProcessConfig()
	if binary != "" {
		cfg.Binary = binary
	}
	return NewProcessEngineWithConfig(cfg)
}

// NewProcessEngineWithConfig creates a process engine with custom config.
func NewProcessEngineWithConfig(config ProcessConfig) *ProcessEngine {
	logging.EngineDebug("Creating ProcessEngine: binary=%s timeout=%s maxOutput=%d",
		config.Binary, config.DefaultTimeout, config.MaxOutputBytes)
	return &ProcessEngine{config: config}
}

// Capabilities returns what this engine supports.
func (e *ProcessEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:               "process",
		SupportsTimeout:    true,
		SupportsConcurrent: true,
		CapturesOutput:     true,
	}
}

// Validate checks whether a request can run.
func (e *ProcessEngine) Validate(req Request) error {
	e.mu.RLock()
	binary := e.config.Binary
	e.mu.RUnlock()

	if binary == "" {
		return fmt.Errorf("binary is required")
	}
	return validateRequest(req)
}

// Run executes the simulation binary with the request's input file,
// using the output directory as the subprocess working directory.
func (e *ProcessEngine) Run(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "process engine run")
	defer timer.Stop()

	if err := e.Validate(req); err != nil {
		logging.EngineWarn("Request validation failed: %v", err)
		return nil, err
	}

	e.mu.RLock()
	config := e.config
	e.mu.RUnlock()

	req = config.Merge(req)

	// The subprocess inherits OutputDir as its working directory, the
	// same contract the in-process invoker provides with chdir.
	if info, err := os.Stat(req.OutputDir); err != nil {
		return nil, &invoker.EnvironmentError{Op: invoker.OpChdir, Path: req.OutputDir, Err: err}
	} else if !info.IsDir() {
		return nil, &invoker.EnvironmentError{Op: invoker.OpChdir, Path: req.OutputDir, Err: fmt.Errorf("not a directory")}
	}

	args := make([]string, 0, 1+len(req.ExtraArgs))
	args = append(args, req.InputPath)
	args = append(args, req.ExtraArgs...)

	logging.Engine("Executing %s %v (dir=%s, timeout=%s)", config.Binary, args, req.OutputDir, req.Timeout)

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, config.Binary, args...)
	execCmd.Dir = req.OutputDir
	execCmd.Env = buildEnvironment(config.AllowedEnvironment, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: req.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: req.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	err := execCmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.EngineWarn("Output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			if req.Timeout > 0 {
				result.KillReason = fmt.Sprintf("timeout after %s", req.Timeout)
			} else {
				result.KillReason = "deadline exceeded"
			}
			logging.EngineWarn("Run killed (timeout): %s after %s", config.Binary, result.Duration)
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "context canceled"
			logging.EngineDebug("Run canceled: %s", config.Binary)
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				logging.EngineDebug("Engine exited non-zero: %d", result.ExitCode)
			} else {
				logging.EngineError("Could not run %s: %v", config.Binary, err)
				return nil, &Failure{Engine: "process", Stage: "start", Err: err}
			}
		}
	} else {
		result.ExitCode = 0
	}

	logging.Engine("Run completed: exit=%d duration=%s stdout=%d bytes",
		result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// buildEnvironment creates the environment variable list for the
// subprocess: allow-listed parent variables first, request variables
// appended so they win.
func buildEnvironment(allowed, reqEnv []string) []string {
	env := make([]string, 0, len(allowed)+len(reqEnv))
	for _, key := range allowed {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	env = append(env, reqEnv...)
	return env
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.max <= 0 {
		return lw.w.Write(p)
	}

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		// Partial write
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
