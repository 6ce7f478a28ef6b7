package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/cache"
	"github.com/rshade/coalesce/internal/config"
	"github.com/rshade/coalesce/internal/ctxtree"
	"github.com/rshade/coalesce/internal/dataloader"
	"github.com/rshade/coalesce/internal/logging"
	"github.com/rshade/coalesce/internal/metrics"
	"github.com/rshade/coalesce/internal/tracing"
	"github.com/rshade/coalesce/internal/tui"
)

// Bench defaults.
const (
	defaultCallers  = 100
	defaultRequests = 100
	defaultKeys     = 1000
	defaultLatency  = 2 * time.Millisecond

	// missingKeyModulus makes every key divisible by it absent from the
	// simulated backend.
	missingKeyModulus = 97

	benchBatcherName = "bench"
	benchLoaderName  = "bench-loader"

	progressInterval = 100 * time.Millisecond
)

// Bench validation errors.
var (
	ErrInvalidCallers   = errors.New("callers must be positive")
	ErrInvalidRequests  = errors.New("requests must be positive")
	ErrInvalidKeys      = errors.New("keys must be positive")
	ErrInvalidErrorRate = errors.New("error-rate must be between 0 and 1")
	ErrInvalidRate      = errors.New("rate must not be negative")
	errBackend          = errors.New("simulated backend failure")
)

// benchOptions are the bench command flags.
type benchOptions struct {
	callers     int
	requests    int
	keys        int
	latency     time.Duration
	errorRate   float64
	rate        float64
	seed        uint64
	useLoader   bool
	useCache    bool
	dumpMetrics bool
	trace       bool
	watch       bool
}

func (o benchOptions) validate() error {
	switch {
	case o.callers <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidCallers, o.callers)
	case o.requests <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidRequests, o.requests)
	case o.keys <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidKeys, o.keys)
	case o.errorRate < 0 || o.errorRate > 1:
		return fmt.Errorf("%w: got %g", ErrInvalidErrorRate, o.errorRate)
	case o.rate < 0:
		return fmt.Errorf("%w: got %g", ErrInvalidRate, o.rate)
	}
	return nil
}

// benchResult summarises one bench run.
type benchResult struct {
	Mode         string
	Callers      int
	Requests     int64
	Errors       int64
	NotFound     int64
	BackendCalls int64
	Duration     time.Duration
	Interrupted  bool
	Stats        batch.StatsSnapshot
}

// CoalescingRatio is requests per backend call.
func (r benchResult) CoalescingRatio() float64 {
	if r.BackendCalls == 0 {
		return 0
	}
	return float64(r.Requests) / float64(r.BackendCalls)
}

// Throughput is completed requests per second.
func (r benchResult) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Duration.Seconds()
}

// NewBenchCmd creates the bench command, which drives concurrent callers
// against a simulated backend through a Batcher or a Loader.
func NewBenchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load-test request coalescing against a simulated backend",
		Long: `Runs --callers goroutines, each issuing --requests lookups for random keys
out of --keys. Lookups go through a Batcher (or a Loader with --loader) in
front of a backend that sleeps --latency per call. The summary shows how many
backend calls the requests were coalesced into.`,
		Example: `  # Default run
  coalesce bench

  # Smaller batches, more waiting
  coalesce bench --batch-size 50 --max-wait 10ms

  # Loader with cache, failing 5% of backend calls
  coalesce bench --loader --cache --error-rate 0.05`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			if err = applyBatchFlags(cmd, cfg); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			log := logging.ComponentLogger(*logging.FromContext(cmd.Context()), "bench")

			var tracer trace.Tracer = noop.NewTracerProvider().Tracer(tracing.ScopeName)
			if opts.trace {
				tp, tpErr := tracing.NewConsoleProvider("coalesce", cmd.Root().Version, cmd.ErrOrStderr(), false)
				if tpErr != nil {
					return tpErr
				}
				defer func() {
					if sErr := tp.Shutdown(context.WithoutCancel(cmd.Context())); sErr != nil {
						log.Warn().Err(sErr).Msg("tracer shutdown failed")
					}
				}()
				tracer = tp.Tracer(tracing.ScopeName)
			}

			deps := benchDeps{reg: reg, tracer: tracer, log: log}
			var res benchResult
			var runErr error
			if opts.watch {
				res, runErr = runBenchWatched(cmd.Context(), cfg, opts, deps, cmd.OutOrStdout())
			} else {
				res, runErr = runBench(cmd.Context(), cfg, opts, deps)
			}
			out := cmd.OutOrStdout()
			if err = renderBenchSummary(out, res, isWriterTerminal(out)); err != nil {
				return err
			}
			if opts.dumpMetrics {
				if err = writeMetrics(out, reg); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.callers, "callers", defaultCallers, "number of concurrent callers")
	f.IntVar(&opts.requests, "requests", defaultRequests, "requests per caller")
	f.IntVar(&opts.keys, "keys", defaultKeys, "size of the key space")
	f.DurationVar(&opts.latency, "latency", defaultLatency, "simulated backend latency per call")
	f.Float64Var(&opts.errorRate, "error-rate", 0, "fraction of backend calls that fail")
	f.Float64Var(&opts.rate, "rate", 0, "cap on requests per second across all callers (0 = unlimited)")
	f.Uint64Var(&opts.seed, "seed", 1, "random seed for key selection")
	f.BoolVar(&opts.useLoader, "loader", false, "go through a dataloader instead of a bare batcher")
	f.BoolVar(&opts.useCache, "cache", false, "enable the loader cache (implies --loader)")
	f.BoolVar(&opts.dumpMetrics, "metrics", false, "print Prometheus metrics after the summary")
	f.BoolVar(&opts.trace, "trace", false, "write OpenTelemetry spans for backend calls to stderr")
	f.BoolVarP(&opts.watch, "watch", "w", false, "show a live dashboard while the bench runs")
	f.Int("batch-size", 0, "override batching.max_batch_size")
	f.Duration("max-wait", 0, "override batching.max_wait")
	f.Int("concurrency", 0, "override batching.concurrency")

	return cmd
}

// applyBatchFlags copies explicitly set batching flags onto cfg and
// validates the result.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("batch-size") {
		cfg.Batching.MaxBatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("max-wait") {
		cfg.Batching.MaxWait, _ = f.GetDuration("max-wait")
	}
	if f.Changed("concurrency") {
		cfg.Batching.Concurrency, _ = f.GetInt("concurrency")
	}
	return cfg.Validate()
}

// backend is the simulated downstream service.
type backend struct {
	latency   time.Duration
	errorRate float64
	calls     atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

func newBackend(latency time.Duration, errorRate float64, seed uint64) *backend {
	return &backend{
		latency:   latency,
		errorRate: errorRate,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // simulation only
	}
}

// fail reports whether this call should fail.
func (b *backend) fail() bool {
	if b.errorRate == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.errorRate
}

// Fetch implements dataloader.Fetcher.
func (b *backend) Fetch(ctx context.Context, keys []int) (map[int]int, error) {
	b.calls.Add(1)

	if b.latency > 0 {
		t := time.NewTimer(b.latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	if b.fail() {
		return nil, errBackend
	}

	out := make(map[int]int, len(keys))
	for _, k := range keys {
		if k%missingKeyModulus == 0 {
			continue
		}
		out[k] = k * k
	}
	return out, nil
}

// Execute implements batch.Executor on top of Fetch.
func (b *backend) Execute(ctx context.Context, items []batch.Item[int, struct{}]) ([]batch.Result[int], error) {
	keys := make([]int, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	values, err := b.Fetch(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make([]batch.Result[int], len(keys))
	for i, k := range keys {
		if v, ok := values[k]; ok {
			results[i] = batch.Ok(v)
		} else {
			results[i] = batch.Fail[int](dataloader.ErrNotFound)
		}
	}
	return results, nil
}

// benchTarget is what callers submit to.
type benchTarget struct {
	name  string
	load  func(ctx context.Context, key int) error
	stats func() batch.StatsSnapshot
	close func()
	drain func(ctx context.Context) error
}

// benchDeps are the observability hooks a bench run reports to.
type benchDeps struct {
	reg    prometheus.Registerer
	tracer trace.Tracer
	log    zerolog.Logger

	// onProgress, when set, receives running counters every
	// progressInterval and once more when the callers finish.
	onProgress func(tui.BenchProgressMsg)
}

func newBenchTarget(
	root *ctxtree.Context,
	cfg *config.Config,
	opts benchOptions,
	be *backend,
	deps benchDeps,
) (*benchTarget, error) {
	m := metrics.NewBatchMetrics(deps.reg)
	log := deps.log

	if !opts.useLoader && !opts.useCache {
		exec := tracing.Executor[int, struct{}, int](be, deps.tracer, benchBatcherName)
		b, err := batch.New[int, struct{}, int](root, exec, cfg.Batching,
			batch.WithName(benchBatcherName),
			batch.WithLogger(log),
			batch.WithObserver(m.For(benchBatcherName)))
		if err != nil {
			return nil, err
		}
		return &benchTarget{
			name: "batcher",
			load: func(ctx context.Context, key int) error {
				_, err := b.Submit(ctx, key, struct{}{})
				return err
			},
			stats: b.Stats,
			close: b.Close,
			drain: b.Drain,
		}, nil
	}

	name := "loader"
	var store *cache.Store[int, int]
	if opts.useCache || cfg.Loader.CacheEnabled {
		store = cache.NewStore[int, int](true, cfg.Loader.CacheTTL, cfg.Loader.CacheMaxEntries)
		name = "loader+cache"
	}

	fetcher := tracing.Fetcher[int, int](be, deps.tracer, benchLoaderName)
	l, err := dataloader.New[int, int](root, fetcher, cfg.Batching,
		dataloader.WithCache(store),
		dataloader.WithLogger[int, int](log),
		dataloader.WithBatchOptions[int, int](
			batch.WithName(benchLoaderName),
			batch.WithObserver(m.For(benchLoaderName))))
	if err != nil {
		return nil, err
	}
	return &benchTarget{
		name: name,
		load: func(ctx context.Context, key int) error {
			_, err := l.Load(ctx, key)
			return err
		},
		stats: l.Stats,
		close: l.Close,
		drain: l.Drain,
	}, nil
}

// runBench drives the configured callers to completion or until ctx is
// cancelled. The result is filled in either way.
func runBench(
	ctx context.Context,
	cfg *config.Config,
	opts benchOptions,
	deps benchDeps,
) (benchResult, error) {
	root, cancel := ctxtree.Attach(ctx)
	defer cancel.Cancel(nil)

	log := deps.log
	be := newBackend(opts.latency, opts.errorRate, opts.seed)
	target, err := newBenchTarget(root, cfg, opts, be, deps)
	if err != nil {
		return benchResult{}, err
	}

	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), opts.callers)
	}

	var requests, failures, notFound atomic.Int64

	log.Info().
		Int("callers", opts.callers).
		Int("requests", opts.requests).
		Int("keys", opts.keys).
		Str("mode", target.name).
		Msg("bench started")

	snapshot := func() tui.BenchProgressMsg {
		return tui.BenchProgressMsg{
			Completed:    requests.Load(),
			BackendCalls: be.calls.Load(),
			Errors:       failures.Load(),
		}
	}
	stopProgress := reportProgress(deps.onProgress, snapshot)

	start := time.Now()
	g, gctx := errgroup.WithContext(root)
	g.SetLimit(opts.callers)
	for c := range opts.callers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.seed, uint64(c))) //nolint:gosec // simulation only
			for range opts.requests {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				err := target.load(gctx, rng.IntN(opts.keys))
				requests.Add(1)
				switch {
				case err == nil:
				case errors.Is(err, dataloader.ErrNotFound):
					notFound.Add(1)
				case errors.Is(err, ctxtree.ErrCancelled), errors.Is(err, batch.ErrClosed):
					return err
				default:
					failures.Add(1)
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()
	elapsed := time.Since(start)
	stopProgress()

	target.close()
	if err = target.drain(context.Background()); err != nil {
		log.Warn().Err(err).Msg("drain interrupted")
	}

	res := benchResult{
		Mode:         target.name,
		Callers:      opts.callers,
		Requests:     requests.Load(),
		Errors:       failures.Load(),
		NotFound:     notFound.Load(),
		BackendCalls: be.calls.Load(),
		Duration:     elapsed,
		Interrupted:  waitErr != nil,
		Stats:        target.stats(),
	}

	log.Info().
		Int64("requests", res.Requests).
		Int64("backend_calls", res.BackendCalls).
		Dur("elapsed", elapsed).
		Msg("bench finished")

	if waitErr != nil {
		return res, fmt.Errorf("bench interrupted: %w", waitErr)
	}
	return res, nil
}

// reportProgress calls fn with snapshot() every progressInterval until the
// returned stop function is called, then once more with the final values.
func reportProgress(fn func(tui.BenchProgressMsg), snapshot func() tui.BenchProgressMsg) func() {
	if fn == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(progressInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn(snapshot())
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		fn(snapshot())
	}
}

// runBenchWatched runs the bench behind the live dashboard. Quitting the
// dashboard cancels the run.
func runBenchWatched(
	ctx context.Context,
	cfg *config.Config,
	opts benchOptions,
	deps benchDeps,
	out io.Writer,
) (benchResult, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	model := tui.NewBenchModel("coalesce bench", int64(opts.callers)*int64(opts.requests))
	teaOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}
	if !isWriterTerminal(out) {
		teaOpts = append(teaOpts, tea.WithInput(nil))
	}
	p := tea.NewProgram(model, teaOpts...)

	deps.onProgress = func(msg tui.BenchProgressMsg) { p.Send(msg) }

	type outcome struct {
		res benchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runBench(ctx, cfg, opts, deps)
		p.Send(tui.BenchDoneMsg{Err: err})
		done <- outcome{res: res, err: err}
	}()

	final, tuiErr := p.Run()
	if m, ok := final.(tui.BenchModel); tuiErr != nil || (ok && m.State() == tui.BenchStateQuitting) {
		stop()
	}

	o := <-done
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return o.res, fmt.Errorf("dashboard: %w", tuiErr)
	}
	return o.res, o.err
}
