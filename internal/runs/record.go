package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"nbodyrun/internal/engine"
)

// Status classifies a finished run. A run is "success" only when the
// simulation itself exited with code zero; everything else, including
// runs the engine could not start, is "error".
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Record describes one simulation run from submission to verdict. Records
// are append-only: once a run finishes, its record never changes.
type Record struct {
	ID          string    `json:"id"`
	Engine      string    `json:"engine"`
	InputPath   string    `json:"input_file"`
	OutputDir   string    `json:"output_directory"`
	ExitCode    int       `json:"return_code"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	OutputFiles []string  `json:"output_files"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMs  int64     `json:"duration_ms"`
	Killed      bool      `json:"killed,omitempty"`
	KillReason  string    `json:"kill_reason,omitempty"`

	// Error holds the engine failure when the run produced no verdict
	// (binary missing, script failed to compile). Empty otherwise.
	Error string `json:"error,omitempty"`
}

func newRecord(engineName, inputPath, outputDir string) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Engine:    engineName,
		InputPath: inputPath,
		OutputDir: outputDir,
		StartedAt: time.Now(),
	}
}

// Succeeded reports whether the simulation exited with code zero.
func (r *Record) Succeeded() bool {
	return r.Status == StatusSuccess
}

// complete fills the verdict fields from an engine result.
func (r *Record) complete(res *engine.Result) {
	r.ExitCode = res.ExitCode
	r.StartedAt = res.StartedAt
	r.FinishedAt = res.FinishedAt
	r.DurationMs = res.Duration.Milliseconds()
	r.Killed = res.Killed
	r.KillReason = res.KillReason

	switch {
	case res.Killed:
		r.Status = StatusError
		r.Message = fmt.Sprintf("Simulation killed (%s)", res.KillReason)
	case res.ExitCode == 0:
		r.Status = StatusSuccess
		r.Message = fmt.Sprintf("Simulation completed successfully (code: %d)", res.ExitCode)
	default:
		r.Status = StatusError
		r.Message = fmt.Sprintf("Simulation failed (code: %d)", res.ExitCode)
	}
}

// fail marks a run that never reached a verdict.
func (r *Record) fail(err error) {
	r.ExitCode = -1
	r.FinishedAt = time.Now()
	r.DurationMs = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	r.Status = StatusError
	r.Error = err.Error()
	r.Message = fmt.Sprintf("Simulation failed: %v", err)
}
