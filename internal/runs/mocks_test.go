package runs

import (
	"context"
	"time"

	"nbodyrun/internal/engine"
)

// --- MockEngine ---

type MockEngine struct {
	CapabilitiesFunc func() engine.Capabilities
	ValidateFunc     func(req engine.Request) error
	RunFunc          func(ctx context.Context, req engine.Request) (*engine.Result, error)

	// State for verification
	Requests []engine.Request
}

func (m *MockEngine) Capabilities() engine.Capabilities {
	if m.CapabilitiesFunc != nil {
		return m.CapabilitiesFunc()
	}
	return engine.Capabilities{
		Name:               "mock",
		SupportsTimeout:    true,
		SupportsConcurrent: true,
		CapturesOutput:     true,
	}
}

func (m *MockEngine) Validate(req engine.Request) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(req)
	}
	return nil
}

func (m *MockEngine) Run(ctx context.Context, req engine.Request) (*engine.Result, error) {
	m.Requests = append(m.Requests, req)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return exitResult(0), nil
}

// exitResult builds a minimal engine result carrying the given exit code.
func exitResult(code int) *engine.Result {
	now := time.Now()
	return &engine.Result{
		ExitCode:   code,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
		Duration:   time.Second,
	}
}

// --- MockStore ---

type MockStore struct {
	SaveRunFunc func(ctx context.Context, rec *Record) error

	// State for verification
	SavedRuns []*Record
}

func (m *MockStore) SaveRun(ctx context.Context, rec *Record) error {
	m.SavedRuns = append(m.SavedRuns, rec)
	if m.SaveRunFunc != nil {
		return m.SaveRunFunc(ctx, rec)
	}
	return nil
}
