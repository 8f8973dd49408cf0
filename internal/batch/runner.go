package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"nbodyrun/internal/logging"
	"nbodyrun/internal/runs"
)

const (
	defaultMaxParallel = 4
	defaultOutputRoot  = "results"
)

// Options configure a sweep.
type Options struct {
	// MaxParallel bounds the number of simulations running at once.
	// Non-positive means the default of 4. Engines that cannot run
	// concurrently are always driven one at a time.
	MaxParallel int

	// StopOnError cancels the remaining runs after the first failure.
	StopOnError bool

	// OutputRoot is the parent directory for per-input output directories.
	// Empty means "results".
	OutputRoot string

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string

	// Timeout caps each individual run. Zero means unlimited.
	Timeout time.Duration
}

// Item pairs one input file with the directory its outputs go to.
type Item struct {
	InputPath string
	OutputDir string
}

// Result aggregates a finished sweep. Records is index-aligned with the
// inputs; entries the sweep never reached stay nil and count as skipped.
type Result struct {
	Records   []*runs.Record `json:"records"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Duration  time.Duration  `json:"duration"`
}

// Runner executes parameter sweeps: the same simulation over many input
// files, each writing into its own output directory.
type Runner struct {
	manager *runs.Manager
	opts    Options
}

// NewRunner creates a sweep runner on top of m.
func NewRunner(m *runs.Manager, opts Options) *Runner {
	return &Runner{manager: m, opts: opts}
}

// Sweep runs every input and reports the aggregate outcome.
//
// Individual failures are recorded, not fatal, unless StopOnError is set;
// then the first failure cancels the runs still pending. Canceling ctx
// aborts the sweep the same way.
func (r *Runner) Sweep(ctx context.Context, inputs []string) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input files")
	}

	parallel := r.opts.MaxParallel
	if parallel <= 0 {
		parallel = defaultMaxParallel
	}
	if !r.manager.Capabilities().SupportsConcurrent {
		// In-process engines share one working directory per process.
		parallel = 1
	}

	items := r.plan(inputs)
	logging.Batch("Starting sweep: %d inputs, %d workers, engine=%s",
		len(items), parallel, r.manager.Capabilities().Name)

	start := time.Now()
	records := make([]*runs.Record, len(items))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)

	for i, item := range items {
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				logging.BatchDebug("Skipping %s: sweep canceled", item.InputPath)
				return egCtx.Err()
			default:
			}

			rec, err := r.manager.Run(egCtx, runs.RunSpec{
				InputPath: item.InputPath,
				OutputDir: item.OutputDir,
				ExtraArgs: r.opts.ExtraArgs,
				Timeout:   r.opts.Timeout,
			})
			records[i] = rec

			switch {
			case err != nil:
				logging.BatchWarn("Sweep item failed: %s: %v", item.InputPath, err)
				if r.opts.StopOnError {
					return fmt.Errorf("%s: %w", item.InputPath, err)
				}
			case !rec.Succeeded():
				logging.BatchWarn("Sweep item failed: %s: %s", item.InputPath, rec.Message)
				if r.opts.StopOnError {
					return fmt.Errorf("%s: %s", item.InputPath, rec.Message)
				}
			default:
				logging.BatchDebug("Sweep item finished: %s", item.InputPath)
			}
			return nil
		})
	}

	err := eg.Wait()

	res := &Result{
		Records:  records,
		Total:    len(items),
		Duration: time.Since(start),
	}
	for _, rec := range records {
		switch {
		case rec == nil:
			res.Skipped++
		case rec.Succeeded():
			res.Succeeded++
		default:
			res.Failed++
		}
	}

	logging.Batch("Sweep finished: %d succeeded, %d failed, %d skipped in %s",
		res.Succeeded, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))
	return res, err
}

// plan assigns each input an output directory under the root, named after
// the input's stem. Duplicate stems get a numeric suffix so no two inputs
// share a directory.
func (r *Runner) plan(inputs []string) []Item {
	root := r.opts.OutputRoot
	if root == "" {
		root = defaultOutputRoot
	}

	seen := make(map[string]int)
	items := make([]Item, len(inputs))
	for i, input := range inputs {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if stem == "" {
			stem = "run"
		}
		n := seen[stem]
		seen[stem] = n + 1
		dir := stem
		if n > 0 {
			dir = fmt.Sprintf("%s-%d", stem, n+1)
		}
		items[i] = Item{
			InputPath: input,
			OutputDir: filepath.Join(root, dir),
		}
	}
	return items
}

// CollectInputs expands glob patterns into a sorted, de-duplicated list of
// input files. A pattern that matches nothing is an error, so a typo does
// not quietly shrink the sweep.
func CollectInputs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var inputs []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad input pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no inputs match %q", pattern)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			inputs = append(inputs, match)
		}
	}
	sort.Strings(inputs)
	return inputs, nil
}
