package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/grid"
	"github.com/23skdu/longbow-quiver/internal/store"
)

const (
	cborContentType   = "application/cbor"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	defaultPageSize   = 50
	maxPageSize       = 500

	// A CBOR float64 takes 9 bytes on the wire; bodyOverhead covers map keys,
	// headers and the tuning fields around the matrices.
	cborFloatBytes = 9
	bodyOverhead   = 64 << 10
	minArrayLimit  = 16
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent serving HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_cache_hits_total",
		Help: "Process requests answered from the result cache",
	})
)

var tracer = otel.Tracer("quiver-server")

// ResultPublisher forwards results to a downstream sink.
type ResultPublisher interface {
	Publish(ctx context.Context, res *compute.Result) error
}

// Server exposes the engine over HTTP with CBOR bodies.
type Server struct {
	cfg       compute.Config
	maxBytes  int64
	maxBody   int64
	dec       cbor.DecMode
	sem       *semaphore.Weighted
	cache     cache.ResultCache
	store     store.Store
	publisher ResultPublisher
	router    *chi.Mux
}

// NewServer builds a server whose runs default to cfg. maxBytes bounds the
// input bytes admitted concurrently, and also sizes the request body limit
// and the longest CBOR array the decoder accepts. ledger and pub may be nil.
func NewServer(cfg compute.Config, maxBytes int64, c cache.ResultCache, ledger store.Store, pub ResultPublisher) (*Server, error) {
	cells := min(max(maxBytes/8, minArrayLimit), math.MaxInt32)
	dec, err := cbor.DecOptions{MaxArrayElements: int(cells)}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		maxBytes:  maxBytes,
		maxBody:   cells*cborFloatBytes + bodyOverhead,
		dec:       dec,
		sem:       semaphore.NewWeighted(maxBytes),
		cache:     c,
		store:     ledger,
		publisher: pub,
		router:    chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return s, nil
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting Quiver Server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

// MatrixPayload is a row-major matrix on the wire.
type MatrixPayload struct {
	Rows int       `cbor:"rows"`
	Cols int       `cbor:"cols"`
	Data []float64 `cbor:"data"`
}

func (p *MatrixPayload) matrix() (*grid.Matrix, error) {
	return grid.NewFromData(p.Rows, p.Cols, p.Data)
}

// ProcessRequest asks for one run. Zero-valued tuning fields fall back to the
// server defaults. B is required for the matmul kernel and ignored otherwise.
type ProcessRequest struct {
	Kernel     string         `cbor:"kernel"`
	Input      MatrixPayload  `cbor:"input"`
	B          *MatrixPayload `cbor:"b,omitempty"`
	Threads    int            `cbor:"threads,omitempty"`
	DeadlineMS *int64         `cbor:"deadline_ms,omitempty"`
	ChunkSize  int            `cbor:"chunk_size,omitempty"`
	Schedule   string         `cbor:"schedule,omitempty"`
}

// ProcessResponse carries the result matrix and run outcome.
type ProcessResponse struct {
	RunID           string        `cbor:"run_id"`
	Kernel          string        `cbor:"kernel"`
	Completed       bool          `cbor:"completed"`
	Cached          bool          `cbor:"cached"`
	ChunksProcessed int           `cbor:"chunks_processed"`
	TotalChunks     int           `cbor:"total_chunks"`
	ElapsedMS       float64       `cbor:"elapsed_ms"`
	Output          MatrixPayload `cbor:"output"`
}

// RunList is one page of the run ledger.
type RunList struct {
	Runs  []*store.Run `cbor:"runs"`
	Total int          `cbor:"total"`
}

func (s *Server) requestConfig(req *ProcessRequest) (compute.Config, error) {
	cfg := s.cfg
	if req.Threads > 0 {
		cfg.NumThreads = req.Threads
	}
	if req.DeadlineMS != nil {
		cfg.Deadline = time.Duration(*req.DeadlineMS) * time.Millisecond
	}
	if req.ChunkSize > 0 {
		cfg.ChunkSize = req.ChunkSize
	}
	if req.Schedule != "" {
		sched, err := compute.ParseSchedule(req.Schedule)
		if err != nil {
			return cfg, err
		}
		cfg.Schedule = sched
	}
	return cfg, cfg.Validate()
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleProcess")
	defer span.End()

	// Bound decode memory before admission: the body can be no larger than
	// the admission limit allows.
	if r.ContentLength > s.maxBody {
		http.Error(w, "Request exceeds admission limit", http.StatusRequestEntityTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.maxBody)

	var req ProcessRequest
	if err := s.dec.NewDecoder(body).Decode(&req); err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request exceeds admission limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := s.requestConfig(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in, err := req.Input.matrix()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		k   compute.Kernel
		b   *grid.Matrix
		key uint64
	)
	weight := int64(len(req.Input.Data)) * 8
	if req.Kernel == "matmul" {
		if req.B == nil {
			http.Error(w, "matmul requires b", http.StatusBadRequest)
			return
		}
		if b, err = req.B.matrix(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if k, err = compute.MatMul(b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		weight += int64(len(req.B.Data)) * 8
		key = cache.Key("matmul:"+strconv.FormatUint(cache.Key("b", b), 16), in)
	} else {
		if k, err = compute.KernelByName(req.Kernel); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key = cache.Key(k.Name(), in)
	}

	span.SetAttributes(
		attribute.String("kernel", k.Name()),
		attribute.Int("rows", in.Rows()),
		attribute.Int("cols", in.Cols()),
		attribute.Int64("bytes", weight),
	)

	if res, ok := s.cache.Get(key); ok {
		cacheHits.Inc()
		s.writeResult(w, res, true)
		return
	}

	// Admission control by input bytes.
	if weight > s.maxBytes {
		http.Error(w, "Request exceeds admission limit", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	e, err := compute.New(cfg, k, compute.WithLogger(log.Logger))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := e.Process(ctx, in)
	if err != nil {
		span.RecordError(err)
		status := http.StatusInternalServerError
		if errors.Is(err, compute.ErrDimensionMismatch) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	span.SetAttributes(attribute.Bool("completed", res.Completed))

	s.cache.Put(key, res)
	if s.store != nil {
		if err := s.store.RecordRun(ctx, store.NewRun(res, cfg)); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID.String()).Msg("Failed to record run")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, res); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID.String()).Msg("Error forwarding result to Longbow")
		}
	}

	s.writeResult(w, res, false)
}

func (s *Server) writeResult(w http.ResponseWriter, res *compute.Result, cached bool) {
	rows, cols := res.Matrix.Dims()
	writeCBOR(w, http.StatusOK, ProcessResponse{
		RunID:           res.RunID.String(),
		Kernel:          res.Kernel,
		Completed:       res.Completed,
		Cached:          cached,
		ChunksProcessed: res.ChunksProcessed,
		TotalChunks:     res.TotalChunks,
		ElapsedMS:       float64(res.Elapsed.Microseconds()) / 1000,
		Output:          MatrixPayload{Rows: rows, Cols: cols, Data: res.Matrix.Data()},
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Run ledger disabled", http.StatusNotFound)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeCBOR(w, http.StatusOK, RunList{Runs: runs, Total: total})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Run ledger disabled", http.StatusNotFound)
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to get run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeCBOR(w, http.StatusOK, run)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeCBOR(w http.ResponseWriter, status int, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", cborContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
