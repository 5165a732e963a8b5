package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/export"
	"github.com/23skdu/longbow-quiver/internal/grid"
	"github.com/23skdu/longbow-quiver/internal/store"
)

var printer = message.NewPrinter(language.English)

// runOnce generates the input selected by flags, runs it through the engine
// and writes every requested output.
func runOnce(ctx context.Context, cfg compute.Config, ledger store.Store, pub *client.Publisher) error {
	in, err := grid.Generate(*rows, *cols, uint32(*seed))
	if err != nil {
		return err
	}

	var res *compute.Result
	if *multiply {
		b, err := grid.Generate(*cols, *rows, uint32(*seed)+1)
		if err != nil {
			return err
		}
		e, err := compute.NewMultiplier(cfg, compute.WithLogger(log.Logger))
		if err != nil {
			return err
		}
		res, err = e.Multiply(ctx, in, b)
		if err != nil {
			return err
		}
	} else {
		k, err := compute.KernelByName(*kernelName)
		if err != nil {
			return err
		}
		e, err := compute.New(cfg, k, compute.WithLogger(log.Logger))
		if err != nil {
			return err
		}
		res, err = e.Process(ctx, in)
		if err != nil {
			return err
		}
	}

	printSummary(os.Stdout, res)
	return emit(ctx, res, cfg, ledger, pub)
}

// emit writes res to the configured sinks. Sink failures are logged and the
// first one is returned after every sink has been tried.
func emit(ctx context.Context, res *compute.Result, cfg compute.Config, ledger store.Store, pub *client.Publisher) error {
	var first error
	keep := func(err error, msg string) {
		if err == nil {
			return
		}
		log.Error().Err(err).Str("run_id", res.RunID.String()).Msg(msg)
		if first == nil {
			first = err
		}
	}

	if *outPath != "" {
		keep(export.WriteRawFile(*outPath, res.Matrix), "Failed to write raw result")
	}
	if *arrowPath != "" {
		keep(writeArrowFile(*arrowPath, res), "Failed to write arrow result")
	}
	if ledger != nil {
		keep(ledger.RecordRun(ctx, store.NewRun(res, cfg)), "Failed to record run")
	}
	if pub != nil {
		keep(pub.Publish(ctx, res), "Failed to publish result")
	}
	return first
}

func writeArrowFile(path string, res *compute.Result) error {
	rec, err := export.NewRecordBuilder(memory.NewGoAllocator()).Build(res.Matrix, map[string]string{
		"run_id":    res.RunID.String(),
		"kernel":    res.Kernel,
		"completed": strconv.FormatBool(res.Completed),
	})
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteIPC(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, res *compute.Result) {
	r, c := res.Matrix.Dims()
	status := "completed"
	if !res.Completed {
		status = "partial (deadline)"
	}
	s := res.Stats()

	printer.Fprintf(w, "run %s  kernel=%s  %dx%d\n", res.RunID, res.Kernel, r, c)
	printer.Fprintf(w, "  status:     %s\n", status)
	printer.Fprintf(w, "  chunks:     %d / %d (%.1f%%)\n", res.ChunksProcessed, res.TotalChunks, res.Progress()*100)
	printer.Fprintf(w, "  elapsed:    %v\n", res.Elapsed)
	printer.Fprintf(w, "  throughput: %.0f cells/s\n", res.Throughput())
	printer.Fprintf(w, "  sum=%.4f mean=%.4f min=%.4f max=%.4f\n", s.Sum, s.Mean, s.Min, s.Max)
}

// printMatrix prints at most limit rows and columns of m.
func printMatrix(w io.Writer, m *grid.Matrix, limit int) {
	r, c := m.Dims()
	for i := 0; i < r && i < limit; i++ {
		for j := 0; j < c && j < limit; j++ {
			fmt.Fprintf(w, "%8.2f ", m.At(i, j))
		}
		if c > limit {
			fmt.Fprint(w, "...")
		}
		fmt.Fprintln(w)
	}
	if r > limit {
		fmt.Fprintln(w, "...")
	}
}
