package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/store"
)

var (
	rows        = flag.Int("rows", 1000, "Rows of the generated input matrix")
	cols        = flag.Int("cols", 1000, "Columns of the generated input matrix")
	threads     = flag.Int("threads", runtime.NumCPU(), "Number of worker goroutines")
	deadline    = flag.Duration("deadline", compute.DefaultDeadline, "Wall-clock budget per run (0 cancels immediately)")
	chunkSize   = flag.Int("chunk-size", 0, "Rows per chunk (0 = one chunk per thread)")
	schedule    = flag.String("schedule", "static", "Chunk schedule: static or dynamic")
	kernelName  = flag.String("kernel", "transform", "Kernel to apply")
	seed        = flag.Uint("seed", 42, "Seed for the generated input")
	multiply    = flag.Bool("multiply", false, "Multiply two generated rows x cols and cols x rows matrices")
	demo        = flag.String("demo", "", "Run a demo: small, large, deadline, compare or all")
	outPath     = flag.String("out", "", "Write the result as raw little-endian float64 to this file")
	arrowPath   = flag.String("arrow", "", "Write the result as an Arrow IPC stream to this file")
	serverAddr  = flag.String("server", "", "Longbow server address to publish results to (e.g., localhost:3000)")
	datasetName = flag.String("dataset", "quiver_results", "Target dataset name on server")
	listenAddr  = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	dbPath      = flag.String("db", "", "SQLite file recording every run")
	maxInflight = flag.String("max-inflight", "1GB", "Maximum input bytes admitted concurrently in server mode (e.g. 1GB, 512MB)")
	cacheSize   = flag.Int("cache-size", 128, "Completed results kept in the server cache")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromFlags()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var ledger store.Store
	if *dbPath != "" {
		s, err := store.NewSQLiteStore(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open run ledger")
		}
		defer s.Close()
		ledger = s
	}

	var publisher *client.Publisher
	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Str("dataset", *datasetName).Msg("Publishing results to Longbow")
		publisher = client.NewPublisher(fc, *datasetName, client.NewCircuitBreaker(5, 30*time.Second), log.Logger)
	}

	if *listenAddr != "" {
		maxBytes, err := humanize.ParseBytes(*maxInflight)
		if err != nil {
			log.Fatal().Err(err).Str("max_inflight", *maxInflight).Msg("Invalid byte size")
		}
		log.Info().Str("max_inflight", humanize.IBytes(maxBytes)).Msg("Admission control")

		var pub ResultPublisher
		if publisher != nil {
			pub = publisher
		}
		srv, err := NewServer(cfg, int64(maxBytes), cache.NewMapCache(*cacheSize), ledger, pub)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create server")
		}
		if err := srv.Run(ctx, *listenAddr); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	if *demo != "" {
		if err := runDemos(ctx, *demo, cfg); err != nil {
			log.Fatal().Err(err).Msg("Demo failed")
		}
		return
	}

	if err := runOnce(ctx, cfg, ledger, publisher); err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}
}

func configFromFlags() (compute.Config, error) {
	sched, err := compute.ParseSchedule(*schedule)
	if err != nil {
		return compute.Config{}, err
	}
	cfg := compute.Config{
		NumThreads: *threads,
		Deadline:   *deadline,
		ChunkSize:  *chunkSize,
		Schedule:   sched,
	}
	return cfg, cfg.Validate()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
