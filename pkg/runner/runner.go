// Package runner is the host-facing entry point: source text in, display
// text out. It owns result caching, batch execution and journaling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"omnivm/pkg/compiler"
	"omnivm/pkg/config"
	"omnivm/pkg/fault"
	"omnivm/pkg/journal"
	"omnivm/pkg/vm"
)

var log = commonlog.GetLogger("omnivm.runner")

// NoOutput is the text of a run that printed nothing.
const NoOutput = "Program finished with no output."

// DiagnosticPrefix marks diagnostic lines in rendered text.
const DiagnosticPrefix = "[ERROR] "

// Recorder stores finished runs. *journal.Journal implements it.
type Recorder interface {
	Record(e journal.Entry) (string, error)
}

// Result is the outcome of one execution.
type Result struct {
	Output   string // raw machine output
	Err      error  // compile or run fault, nil on a clean run
	Cycles   int64
	Duration time.Duration
	Cached   bool
}

// Text renders r for display. It is never empty.
func (r Result) Text() string {
	out := strings.TrimRight(r.Output, "\n")
	if r.Err != nil {
		diag := DiagnosticPrefix + r.Err.Error()
		if out == "" {
			return diag
		}
		return out + "\n" + diag
	}
	if out == "" {
		return NoOutput
	}
	return out
}

// FaultKind names the fault category of r, or "" for a clean run.
func (r Result) FaultKind() string {
	var f *fault.Fault
	if errors.As(r.Err, &f) {
		return f.Kind.String()
	}
	if r.Err != nil {
		return "error"
	}
	return ""
}

type Options struct {
	// Limits bounds every run. The zero value means vm.DefaultLimits.
	Limits vm.Limits

	// Workers caps ExecuteBatch concurrency. Zero means GOMAXPROCS.
	Workers int

	// CacheEntries sizes the result cache. Zero disables caching.
	CacheEntries int

	Journal Recorder
}

// Runner compiles and executes snippets. It is safe for concurrent use;
// every run gets its own Machine.
type Runner struct {
	limits  vm.Limits
	salt    string
	workers int
	cache   *lru.Cache[uint64, Result]
	journal Recorder
}

func New(opts Options) (*Runner, error) {
	if opts.Limits == (vm.Limits{}) {
		opts.Limits = vm.DefaultLimits()
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	r := &Runner{
		limits:  opts.Limits,
		salt:    fmt.Sprintf("%+v\x00", opts.Limits),
		workers: opts.Workers,
		journal: opts.Journal,
	}
	if opts.CacheEntries > 0 {
		cache, err := lru.New[uint64, Result](opts.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("creating result cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// FromConfig builds a Runner from the [limits] and [runner] sections.
func FromConfig(c *config.Config, rec Recorder) (*Runner, error) {
	return New(Options{
		Limits:       c.Limits,
		Workers:      c.Runner.Workers,
		CacheEntries: c.Runner.CacheEntries,
		Journal:      rec,
	})
}

// Limits returns the limits applied to every run.
func (r *Runner) Limits() vm.Limits { return r.limits }

func (r *Runner) key(source string) uint64 {
	return xxh3.HashString(r.salt + source)
}

// Run compiles and executes source. Panics are recovered into a runtime fault.
func (r *Runner) Run(ctx context.Context, source string) Result {
	key := r.key(source)
	if r.cache != nil {
		if res, ok := r.cache.Get(key); ok {
			log.Debugf("cache hit for %016x", key)
			res.Cached = true
			return res
		}
	}

	start := time.Now()
	res := r.run(ctx, source)
	res.Duration = time.Since(start)

	if r.cache != nil && !errors.Is(res.Err, fault.ErrCanceled) {
		r.cache.Add(key, res)
	}
	if r.journal != nil {
		_, err := r.journal.Record(journal.Entry{
			Started:    start,
			SourceHash: fmt.Sprintf("%016x", key),
			Output:     res.Text(),
			Fault:      res.FaultKind(),
			Cycles:     res.Cycles,
			Duration:   res.Duration,
		})
		if err != nil {
			log.Warningf("journal: %s", err)
		}
	}
	return res
}

func (r *Runner) run(ctx context.Context, source string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("recovered from panic: %v", p)
			res.Err = fault.At(fault.RuntimeFault, 0, "internal error: %v", p)
		}
	}()

	if len(source) > r.limits.MaxSource {
		return Result{Err: fault.At(fault.ResourceExhausted, 0, "source is %d bytes, limit is %d", len(source), r.limits.MaxSource)}
	}
	prog, err := compiler.CompileWith(source, compiler.Options{MaxData: r.limits.MaxMemory})
	if err != nil {
		return Result{Err: err}
	}

	m := vm.New(r.limits)
	if err := m.Load(prog); err != nil {
		return Result{Err: err}
	}
	out, err := m.Run(ctx)
	log.Debugf("ran %d instructions, %d bytes of output", m.Cycles(), len(out))
	return Result{Output: out, Err: err, Cycles: m.Cycles()}
}

// Execute runs source and renders the result.
func (r *Runner) Execute(ctx context.Context, source string) string {
	return r.Run(ctx, source).Text()
}

// ExecuteBatch executes sources concurrently, at most Workers at a time.
// The texts come back in input order. The error is ctx's, if it ended first.
func (r *Runner) ExecuteBatch(ctx context.Context, sources []string) ([]string, error) {
	texts := make([]string, len(sources))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			texts[i] = r.Execute(ctx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return texts, err
	}
	return texts, ctx.Err()
}

// Execute compiles and runs source under the default limits. It always
// returns text and never panics.
func Execute(source string) string {
	r, err := New(Options{})
	if err != nil {
		return DiagnosticPrefix + err.Error()
	}
	return r.Execute(context.Background(), source)
}
