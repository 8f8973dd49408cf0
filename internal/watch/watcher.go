package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nbodyrun/internal/logging"
	"nbodyrun/internal/runs"
)

const defaultDebounce = 500 * time.Millisecond

var defaultExtensions = []string{".in", ".txt", ".dat", ".params", ".nbody_comp"}

// Stats tracks watcher activity for debugging and the status display.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	RunsTriggered int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Options configure an InputWatcher.
type Options struct {
	// WatchDir is the directory whose input files are watched. Not recursive.
	WatchDir string

	// OutputRoot is the parent directory for per-input output directories.
	// Empty means "results".
	OutputRoot string

	// Extensions lists the input file suffixes that trigger runs. Empty
	// means the default set.
	Extensions []string

	// Debounce is how long a file must stay quiet after its last change
	// before it is run. Editors often write a file several times per save.
	Debounce time.Duration

	// ExtraArgs are appended to every triggered invocation.
	ExtraArgs []string

	// Timeout caps each triggered run. Zero means unlimited.
	Timeout time.Duration

	// OnRun, when set, is called with the record of every triggered run.
	OnRun func(*runs.Record)
}

// InputWatcher watches a directory of simulation input files and re-runs a
// simulation whenever its input settles after a change. Triggered runs
// execute one at a time in the watcher's own goroutine.
type InputWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	manager     *runs.Manager
	watchDir    string
	outputRoot  string
	extensions  []string
	extraArgs   []string
	timeout     time.Duration
	onRun       func(*runs.Record)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	cancelRuns  context.CancelFunc
	running     bool

	stats Stats
}

// NewInputWatcher creates a watcher that triggers runs through m.
func NewInputWatcher(m *runs.Manager, opts Options) (*InputWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	outputRoot := opts.OutputRoot
	if outputRoot == "" {
		outputRoot = "results"
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &InputWatcher{
		watcher:     watcher,
		manager:     m,
		watchDir:    opts.WatchDir,
		outputRoot:  outputRoot,
		extensions:  extensions,
		extraArgs:   opts.ExtraArgs,
		timeout:     opts.Timeout,
		onRun:       opts.OnRun,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	return w, nil
}

// Start begins watching the input directory for changes.
// This method is non-blocking; it starts the watcher in a goroutine.
func (w *InputWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true

	// Triggered runs get their own context so Stop can cut a long
	// simulation short instead of waiting hours for it.
	runCtx, cancel := context.WithCancel(ctx)
	w.cancelRuns = cancel
	w.mu.Unlock()

	if err := os.MkdirAll(w.watchDir, 0o755); err != nil {
		logging.WatchWarn("InputWatcher: failed to create watch dir %s: %v (continuing anyway)", w.watchDir, err)
	}

	if err := w.watcher.Add(w.watchDir); err != nil {
		logging.WatchWarn("InputWatcher: initial watch failed (dir may not exist): %v", err)
	} else {
		logging.Watch("InputWatcher: watching directory: %s", w.watchDir)
	}

	go w.run(runCtx)

	return nil
}

// Stop stops the watcher, cancels any in-flight run, and waits for cleanup.
func (w *InputWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancelRuns
	w.mu.Unlock()

	close(w.stopCh)
	cancel()
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("InputWatcher: error closing watcher: %v", err)
	}
	logging.Watch("InputWatcher: stopped")
}

// run is the main event loop for the watcher.
func (w *InputWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("InputWatcher: context cancelled")
			return

		case <-w.stopCh:
			logging.Watch("InputWatcher: stop signal received")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				logging.Watch("InputWatcher: event channel closed")
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				logging.Watch("InputWatcher: error channel closed")
				return
			}
			logging.WatchError("InputWatcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

// handleEvent processes a single filesystem event.
func (w *InputWatcher) handleEvent(event fsnotify.Event) {
	if !w.isInputFile(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod, etc.
	}

	logging.WatchDebug("InputWatcher: %s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType

	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}

	// Debounce: record the event for later processing
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processDebouncedEvents runs inputs whose changes have settled past the
// debounce window.
func (w *InputWatcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	toRun := make([]string, 0)

	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toRun = append(toRun, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range toRun {
		w.runInput(ctx, path)
	}
}

// runInput runs one settled input file through the manager.
func (w *InputWatcher) runInput(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logging.WatchDebug("InputWatcher: file deleted, skipping run: %s", path)
			return
		}
		logging.WatchError("InputWatcher: failed to stat %s: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outputDir := filepath.Join(w.outputRoot, stem)

	logging.Watch("InputWatcher: input changed, running: %s", path)

	rec, err := w.manager.Run(ctx, runs.RunSpec{
		InputPath: path,
		OutputDir: outputDir,
		ExtraArgs: w.extraArgs,
		Timeout:   w.timeout,
	})

	w.mu.Lock()
	w.stats.RunsTriggered++
	if err != nil {
		w.stats.Errors++
	}
	w.mu.Unlock()

	if err != nil {
		logging.WatchError("InputWatcher: run failed for %s: %v", path, err)
	} else {
		logging.Watch("InputWatcher: %s", rec.Message)
	}

	if rec != nil && w.onRun != nil {
		w.onRun(rec)
	}
}

// RunAll runs every input file currently in the watch directory once.
// Useful for a first pass at startup before waiting on changes.
func (w *InputWatcher) RunAll(ctx context.Context) error {
	logging.Watch("InputWatcher: running all inputs in %s", w.watchDir)

	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.WatchDebug("InputWatcher: watch dir does not exist: %s", w.watchDir)
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !w.isInputFile(entry.Name()) {
			continue
		}
		w.runInput(ctx, filepath.Join(w.watchDir, entry.Name()))
	}

	return nil
}

// isInputFile reports whether the path carries a watched extension.
func (w *InputWatcher) isInputFile(path string) bool {
	for _, ext := range w.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// GetStats returns the current watcher statistics.
func (w *InputWatcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// ResetStats resets the watcher statistics.
func (w *InputWatcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}

// IsWatching returns true if the watcher is currently running.
func (w *InputWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the directories being watched.
func (w *InputWatcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
