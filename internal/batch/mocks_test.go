package batch

import (
	"context"
	"sync"
	"time"

	"nbodyrun/internal/engine"
)

// --- MockEngine ---

type MockEngine struct {
	CapabilitiesFunc func() engine.Capabilities
	RunFunc          func(ctx context.Context, req engine.Request) (*engine.Result, error)

	// State for verification
	mu          sync.Mutex
	Requests    []engine.Request
	inFlight    int
	MaxInFlight int
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
	return nil
}

func (m *MockEngine) Run(ctx context.Context, req engine.Request) (*engine.Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

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
