package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/forkjoin"
	"github.com/23skdu/longbow-quiver/internal/grid"
)

type demoFunc func(ctx context.Context, cfg compute.Config) error

var demos = map[string]demoFunc{
	"small":    demoSmall,
	"large":    demoLarge,
	"deadline": demoDeadline,
	"compare":  demoCompare,
}

var demoOrder = []string{"small", "large", "deadline", "compare"}

func runDemos(ctx context.Context, name string, cfg compute.Config) error {
	names := []string{name}
	if name == "all" {
		names = demoOrder
	}
	for _, n := range names {
		fn, ok := demos[n]
		if !ok {
			return fmt.Errorf("unknown demo %q (want %s or all)", n, strings.Join(demoOrder, ", "))
		}
		fmt.Printf("\n== %s ==\n", n)
		if err := fn(ctx, cfg); err != nil {
			return fmt.Errorf("demo %s: %w", n, err)
		}
	}
	return nil
}

// demoSmall runs the identity kernel over a 10x10 sequence on 4 threads and
// prints both matrices.
func demoSmall(ctx context.Context, cfg compute.Config) error {
	in, err := grid.Sequence(10, 10)
	if err != nil {
		return err
	}
	cfg.NumThreads = 4
	e, err := compute.New(cfg, compute.Identity(), compute.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	res, err := e.Process(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println("input:")
	printMatrix(os.Stdout, in, 10)
	fmt.Println("output:")
	printMatrix(os.Stdout, res.Matrix, 10)
	printSummary(os.Stdout, res)
	return nil
}

// demoLarge runs the configured kernel over a rows x cols generated matrix.
func demoLarge(ctx context.Context, cfg compute.Config) error {
	in, err := grid.Generate(*rows, *cols, uint32(*seed))
	if err != nil {
		return err
	}
	k, err := compute.KernelByName(*kernelName)
	if err != nil {
		return err
	}
	e, err := compute.New(cfg, k, compute.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	res, err := e.Process(ctx, in)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, res)
	return nil
}

// demoDeadline gives an expensive kernel a budget far below what it needs and
// reports how much finished.
func demoDeadline(ctx context.Context, cfg compute.Config) error {
	in, err := grid.Generate(2000, 500, uint32(*seed))
	if err != nil {
		return err
	}
	heavy := compute.Map("heavy", func(v float64, _, _ int) float64 {
		acc := v
		for i := 0; i < 200; i++ {
			acc = acc*0.999 + 0.001
		}
		return acc
	})
	cfg.Deadline = 10 * time.Millisecond
	cfg.ChunkSize = 25
	e, err := compute.New(cfg, heavy, compute.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	res, err := e.Process(ctx, in)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, res)
	return nil
}

// demoCompare multiplies the same pair of matrices four ways and checks they
// agree.
func demoCompare(ctx context.Context, cfg compute.Config) error {
	n := min(max(*rows, 1), 400)
	a, err := grid.Generate(n, n, uint32(*seed))
	if err != nil {
		return err
	}
	b, err := grid.Generate(n, n, uint32(*seed)+1)
	if err != nil {
		return err
	}
	k, err := compute.MatMul(b)
	if err != nil {
		return err
	}
	cfg.Deadline = time.Minute

	start := time.Now()
	seq, err := compute.Sequential(ctx, a, k)
	if err != nil {
		return err
	}
	seqElapsed := time.Since(start)

	e, err := compute.NewMultiplier(cfg, compute.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	pool, err := e.Multiply(ctx, a, b)
	if err != nil {
		return err
	}

	fj, err := forkjoin.Process(ctx, a, k, cfg.Deadline)
	if err != nil {
		return err
	}

	start = time.Now()
	var blas mat.Dense
	blas.Mul(a.ToDense(), b.ToDense())
	blasElapsed := time.Since(start)
	ref := grid.FromDense(&blas)

	printer.Printf("%dx%d matmul\n", n, n)
	printer.Printf("  sequential: %v\n", seqElapsed)
	printer.Printf("  pool:       %v (%d threads, speedup %.2fx)\n", pool.Elapsed, cfg.NumThreads, speedup(seqElapsed, pool.Elapsed))
	printer.Printf("  fork-join:  %v (speedup %.2fx)\n", fj.Elapsed, speedup(seqElapsed, fj.Elapsed))
	printer.Printf("  gonum blas: %v\n", blasElapsed)

	if !seq.Matrix.Equal(pool.Matrix) || !seq.Matrix.Equal(fj.Matrix) {
		return fmt.Errorf("parallel results differ from sequential")
	}
	if !mat.EqualApprox(seq.Matrix.ToDense(), ref.ToDense(), 1e-6*float64(n)) {
		return fmt.Errorf("blas result differs from sequential")
	}
	fmt.Println("  all results agree")
	return nil
}

func speedup(base, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(base) / float64(d)
}
