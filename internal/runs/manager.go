package runs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nbodyrun/internal/config"
	"nbodyrun/internal/engine"
	"nbodyrun/internal/logging"
)

// historyLimit bounds the in-memory run history. When it is exceeded the
// oldest hundred records are dropped.
const historyLimit = 1000

// Store persists run records. *store.RunStore satisfies this.
type Store interface {
	SaveRun(ctx context.Context, rec *Record) error
}

// RunSpec names one simulation to execute.
type RunSpec struct {
	// InputPath is the simulation input file. It must exist.
	InputPath string

	// OutputDir is where the simulation runs and writes its files. It is
	// created if missing. Empty means the current directory.
	OutputDir string

	// ExtraArgs are appended to the engine invocation after the input path.
	ExtraArgs []string

	// Timeout caps the run. Zero means unlimited. Engines that cannot
	// enforce a timeout reject a non-zero value.
	Timeout time.Duration
}

// Manager runs simulations through an engine and keeps a record of every
// attempt. All methods are safe for concurrent use, though whether two runs
// may actually overlap is the engine's call.
type Manager struct {
	mu            sync.RWMutex
	engine        engine.Engine
	store         Store
	patterns      []string
	defaultInput  string
	defaultOutput string
	history       []*Record
	resultHook    func(*Record, *engine.Result)
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists every finished record through s. Persistence failures
// are logged, never surfaced to the caller.
func WithStore(s Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithOutputPatterns overrides the glob patterns used to discover output
// files after a run.
func WithOutputPatterns(patterns []string) Option {
	return func(m *Manager) {
		m.patterns = patterns
	}
}

// WithDefaultInput sets the input file used when a RunSpec names none.
func WithDefaultInput(path string) Option {
	return func(m *Manager) {
		m.defaultInput = path
	}
}

// WithDefaultOutputDir sets the output directory used when a RunSpec
// names none. Without it, such runs use the current directory.
func WithDefaultOutputDir(dir string) Option {
	return func(m *Manager) {
		m.defaultOutput = dir
	}
}

// WithResultHook calls fn with every verdict-bearing run before it is
// remembered. Records carry metadata only, so this is how callers get at
// the captured simulation output.
func WithResultHook(fn func(*Record, *engine.Result)) Option {
	return func(m *Manager) {
		m.resultHook = fn
	}
}

// NewManager creates a manager that executes runs through eng.
func NewManager(eng engine.Engine, opts ...Option) *Manager {
	logging.RunsDebug("Creating run manager: engine=%s", eng.Capabilities().Name)

	m := &Manager{
		engine:   eng,
		patterns: config.DefaultOutputPatterns,
		history:  []*Record{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capabilities reports the capabilities of the underlying engine.
func (m *Manager) Capabilities() engine.Capabilities {
	return m.engine.Capabilities()
}

// Run executes one simulation and returns its record.
//
// Requests that fail pre-flight checks (missing input file, output directory
// that cannot be created) return a nil record and an error; nothing is
// recorded because no run started. Once the engine is invoked every outcome
// is recorded: verdicts return (rec, nil) whatever the exit code, and
// no-verdict failures return the failed record alongside the error.
func (m *Manager) Run(ctx context.Context, spec RunSpec) (*Record, error) {
	inputPath, outputDir, err := m.prepare(spec)
	if err != nil {
		logging.RunsError("Run rejected: %v", err)
		return nil, err
	}

	rec := newRecord(m.engine.Capabilities().Name, inputPath, outputDir)
	logging.Runs("Run %s starting: input=%s output=%s engine=%s",
		rec.ID, inputPath, outputDir, rec.Engine)

	res, err := m.engine.Run(ctx, engine.Request{
		InputPath: inputPath,
		OutputDir: outputDir,
		ExtraArgs: spec.ExtraArgs,
		Timeout:   spec.Timeout,
	})
	if err != nil {
		rec.fail(err)
		m.remember(ctx, rec)
		logging.RunsError("Run %s failed without a verdict: %v", rec.ID, err)
		return rec, err
	}
	rec.complete(res)

	files, derr := DiscoverOutputs(outputDir, m.patterns)
	if derr != nil {
		logging.RunsWarn("Run %s output discovery failed: %v", rec.ID, derr)
	}
	rec.OutputFiles = files

	if m.resultHook != nil {
		m.resultHook(rec, res)
	}
	m.remember(ctx, rec)
	logging.Runs("Run %s finished: %s (%d output files, %dms)",
		rec.ID, rec.Message, len(rec.OutputFiles), rec.DurationMs)
	return rec, nil
}

// prepare validates the spec and resolves both paths to absolute form,
// creating the output directory if needed.
func (m *Manager) prepare(spec RunSpec) (inputPath, outputDir string, err error) {
	if spec.InputPath == "" {
		spec.InputPath = m.defaultInput
	}
	if spec.OutputDir == "" {
		spec.OutputDir = m.defaultOutput
	}
	if spec.InputPath == "" {
		return "", "", fmt.Errorf("input path is required")
	}

	inputPath, err = filepath.Abs(spec.InputPath)
	if err != nil {
		return "", "", fmt.Errorf("resolve input path: %w", err)
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", "", fmt.Errorf("input file not found: %s", spec.InputPath)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("input path is a directory: %s", spec.InputPath)
	}

	outputDir = spec.OutputDir
	if outputDir == "" {
		outputDir, err = os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("resolve current directory: %w", err)
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return "", "", fmt.Errorf("resolve output directory: %w", err)
	}

	return inputPath, outputDir, nil
}

// remember appends the record to history and persists it when a store is
// configured.
func (m *Manager) remember(ctx context.Context, rec *Record) {
	m.mu.Lock()
	m.history = append(m.history, rec)
	if len(m.history) > historyLimit {
		logging.RunsDebug("Trimming run history from %d entries", len(m.history))
		m.history = m.history[100:]
	}
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	if err := m.store.SaveRun(ctx, rec); err != nil {
		logging.RunsWarn("Failed to persist run %s: %v", rec.ID, err)
	}
}

// History returns a copy of the recorded runs, oldest first.
func (m *Manager) History() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, len(m.history))
	copy(out, m.history)
	return out
}

// Last returns the most recent record, or nil when nothing has run.
func (m *Manager) Last() *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1]
}

// Summary aggregates the recorded runs.
type Summary struct {
	TotalRuns   int     `json:"total_runs"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	LastStatus  Status  `json:"last_status,omitempty"`
}

// Summarize reports aggregate statistics over the recorded runs.
func (m *Manager) Summarize() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{TotalRuns: len(m.history)}
	for _, rec := range m.history {
		if rec.Succeeded() {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	if s.TotalRuns > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalRuns)
		s.LastStatus = m.history[len(m.history)-1].Status
	}
	return s
}
