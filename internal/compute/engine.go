package compute

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// Engine runs a kernel over a matrix on a fixed pool of worker goroutines
// under a wall-clock deadline. An Engine holds no per-run state and may be
// used by several goroutines at once; every Process call gets its own token,
// output buffer, workers and watchdog.
type Engine struct {
	cfg    Config
	kernel Kernel
	logger zerolog.Logger
	tracer trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger replaces the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer replaces the engine tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New validates cfg and returns an Engine that applies k on every Process
// call.
func New(cfg Config, k Kernel, opts ...Option) (*Engine, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", ErrInvalidConfig)
	}
	return newEngine(cfg, k, opts)
}

// NewMultiplier returns an Engine for Multiply only. It carries no kernel of
// its own, so Process on it fails with ErrInvalidConfig.
func NewMultiplier(cfg Config, opts ...Option) (*Engine, error) {
	return newEngine(cfg, nil, opts)
}

func newEngine(cfg Config, k Kernel, opts []Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		kernel: k,
		logger: log.With().Str("component", "compute").Logger(),
		tracer: otel.Tracer("quiver-compute"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Kernel returns the kernel applied by Process, or nil for an engine built
// with NewMultiplier.
func (e *Engine) Kernel() Kernel { return e.kernel }

// Process applies the engine kernel to in. A run that hits its deadline is
// not an error: the Result comes back with Completed == false and the
// unreached rows left at zero. Errors are only returned for invalid input,
// before any goroutine is started.
//
// Cancelling ctx has the same effect as the deadline firing early.
func (e *Engine) Process(ctx context.Context, in *grid.Matrix) (*Result, error) {
	if e.kernel == nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("%w: engine has no kernel, use Multiply", ErrInvalidConfig)
	}
	return e.run(ctx, in, e.kernel)
}

// Multiply computes a x b with the same chunking, token and watchdog as
// Process, partitioned by output row. The engine's own kernel is not used;
// engines built only for this should come from NewMultiplier.
func (e *Engine) Multiply(ctx context.Context, a, b *grid.Matrix) (*Result, error) {
	k, err := MatMul(b)
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	return e.run(ctx, a, k)
}

func (e *Engine) run(ctx context.Context, in *grid.Matrix, k Kernel) (*Result, error) {
	if in == nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, ErrNilMatrix
	}
	rows, cols, err := k.Shape(in)
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("kernel %s: %w", k.Name(), err)
	}
	out, err := allocate(rows, cols)
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	res := &Result{
		RunID:     uuid.New(),
		Kernel:    k.Name(),
		Matrix:    out,
		Completed: true,
	}
	chunks := Partition(rows, e.cfg.Granularity())
	res.TotalChunks = len(chunks)

	ctx, span := e.tracer.Start(ctx, "compute.Process", trace.WithAttributes(
		attribute.String("run_id", res.RunID.String()),
		attribute.String("kernel", k.Name()),
		attribute.Int("rows", rows),
		attribute.Int("cols", cols),
		attribute.Int("threads", e.cfg.NumThreads),
		attribute.Int("chunks", len(chunks)),
		attribute.String("schedule", e.cfg.Schedule.String()),
		attribute.Int64("deadline_ms", e.cfg.Deadline.Milliseconds()),
	))
	defer span.End()

	logger := e.logger.With().Str("run_id", res.RunID.String()).Str("kernel", k.Name()).Logger()
	logger.Debug().
		Int("rows", rows).
		Int("cols", cols).
		Int("chunks", len(chunks)).
		Int("threads", e.cfg.NumThreads).
		Dur("deadline", e.cfg.Deadline).
		Msg("Run started")

	if len(chunks) == 0 {
		runsTotal.WithLabelValues(outcomeCompleted).Inc()
		span.SetAttributes(attribute.Bool("completed", true))
		return res, nil
	}

	tok := &Token{}
	start := time.Now()
	wd := StartWatchdog(ctx, e.cfg.Deadline, tok)

	w := &worker{in: in, out: out, kernel: k, tok: tok}
	processed := e.dispatch(w, chunks)

	fired := wd.Stop()
	res.Elapsed = time.Since(start)
	res.Completed = !tok.Cancelled()
	res.ChunksProcessed = processed

	runDuration.WithLabelValues(k.Name()).Observe(res.Elapsed.Seconds())
	chunksPlanned.WithLabelValues(k.Name()).Add(float64(len(chunks)))
	chunksProcessed.WithLabelValues(k.Name()).Add(float64(processed))

	span.SetAttributes(
		attribute.Bool("completed", res.Completed),
		attribute.Int("chunks_processed", processed),
	)

	if res.Completed {
		runsTotal.WithLabelValues(outcomeCompleted).Inc()
		logger.Debug().
			Dur("elapsed", res.Elapsed).
			Int("chunks", processed).
			Msg("Run completed")
		return res, nil
	}

	runsTotal.WithLabelValues(outcomeDeadline).Inc()
	if fired && res.Elapsed > e.cfg.Deadline {
		deadlineOverrun.Observe((res.Elapsed - e.cfg.Deadline).Seconds())
	}
	span.SetStatus(codes.Unset, "deadline exceeded")
	logger.Info().
		Dur("elapsed", res.Elapsed).
		Dur("deadline", e.cfg.Deadline).
		Int("chunks", processed).
		Int("total_chunks", len(chunks)).
		Msg("Deadline reached, returning partial result")
	return res, nil
}

// dispatch starts one goroutine per worker, joins them all and returns the
// number of finished chunks. The join is unconditional: workers exit on their
// own once the token is set.
func (e *Engine) dispatch(w *worker, chunks []Chunk) int {
	workers := e.cfg.NumThreads
	if workers > len(chunks) {
		workers = len(chunks)
	}
	counts := make([]int, workers)

	var wg sync.WaitGroup
	workersActive.Add(float64(workers))

	switch e.cfg.Schedule {
	case ScheduleDynamic:
		q := newChunkQueue(chunks)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer workersActive.Dec()
				counts[idx] = w.runDynamic(q)
			}(i)
		}
	default:
		for i, set := range Assign(chunks, workers) {
			wg.Add(1)
			go func(idx int, set []Chunk) {
				defer wg.Done()
				defer workersActive.Dec()
				counts[idx] = w.runStatic(set)
			}(i, set)
		}
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// allocate returns a zero-filled output. Requests whose size cannot be
// represented, or that make the runtime panic, surface as ErrAllocation.
func allocate(rows, cols int) (m *grid.Matrix, err error) {
	if rows > 0 && cols > math.MaxInt/8/rows {
		return nil, fmt.Errorf("%w: %dx%d overflows", ErrAllocation, rows, cols)
	}
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: %dx%d: %v", ErrAllocation, rows, cols, r)
		}
	}()
	return grid.New(rows, cols)
}
