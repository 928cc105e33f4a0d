// Package batch applies one operation to many files concurrently. Files
// run on a bounded pool; the same path is never processed by two workers
// at once, and a file that is still being written (truncated) is retried
// with backoff.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

// Job is the work done for one file.
type Job func(ctx context.Context, path string) error

// Options configure a Runner.
type Options struct {
	Workers  int           // default 4
	Attempts uint          // tries per file, default 3
	Delay    time.Duration // first retry delay, doubled after each try
	MaxDelay time.Duration // default 5s
	Logger   *slog.Logger
}

// Result is the outcome for one file.
type Result struct {
	Path     string        `json:"path" yaml:"path"`
	Err      error         `json:"-" yaml:"-"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts uint          `json:"attempts" yaml:"attempts"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`

	index int
}

// OK reports whether the job succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Report collects the results of a run in input order.
type Report struct {
	Results   []Result      `json:"results" yaml:"results"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Err joins the errors of every failed file.
func (r *Report) Err() error {
	var failed []error
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", res.Path, res.Err))
		}
	}
	return errors.Join(failed...)
}

// Runner runs jobs over many files.
type Runner struct {
	opts  Options
	log   *slog.Logger
	locks *pathLocks
}

// NewRunner returns a Runner. Runs of one Runner share its path locks, so
// concurrent Run calls also never touch one file at the same time.
func NewRunner(opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		opts:  opts,
		log:   opts.Logger.With("component", "batch"),
		locks: newPathLocks(),
	}
}

// Run applies job to every path and waits for all of them. A cancelled ctx
// fails the files that have not started.
func (r *Runner) Run(ctx context.Context, paths []string, job Job) *Report {
	start := time.Now()
	p := pool.NewWithResults[Result]().WithMaxGoroutines(r.opts.Workers)
	for i, path := range paths {
		p.Go(func() Result {
			res := r.runOne(ctx, path, job)
			res.index = i
			return res
		})
	}
	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	rep := &Report{Results: results, Elapsed: time.Since(start)}
	for _, res := range results {
		if res.OK() {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
	}
	r.log.Info("batch finished", "files", len(paths), "succeeded", rep.Succeeded, "failed", rep.Failed, "elapsed", rep.Elapsed)
	return rep
}

func (r *Runner) runOne(ctx context.Context, path string, job Job) (res Result) {
	res.Path = path
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	unlock := r.locks.lock(path)
	defer unlock()

	res.Err = retry.Do(
		func() error {
			res.Attempts++
			return job(ctx, path)
		},
		retry.Attempts(r.opts.Attempts),
		retry.Delay(r.opts.Delay),
		retry.MaxDelay(r.opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			r.log.Debug("retrying file", "path", path, "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
	if res.Err != nil {
		r.log.Warn("file failed", "path", path, "attempts", res.Attempts, "error", res.Err)
	}
	return res
}

// Retryable reports whether a failure may go away on its own: the file
// ended early, as it does while a download is still writing it.
func Retryable(err error) bool {
	return errors.Is(err, errs.ErrTruncatedStream)
}

// pathLocks hands out one mutex per cleaned path and forgets it when the
// last holder releases it.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (l *pathLocks) lock(path string) (unlock func()) {
	key := filepath.Clean(path)
	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &pathLock{}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		if pl.refs--; pl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *pathLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Collect expands roots into files accepted by match. Directories are
// walked recursively; files named directly are kept even if match rejects
// them. The result is sorted and free of duplicates.
func Collect(fs afero.Fs, roots []string, match func(path string) bool) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, root := range roots {
		fi, err := fs.Stat(root)
		if err != nil {
			return nil, errs.IO("stat "+root, err)
		}
		if !fi.IsDir() {
			add(root)
			continue
		}
		err = afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() && match(p) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, errs.IO("walk "+root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}
