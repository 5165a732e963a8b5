package compute

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/23skdu/longbow-quiver/internal/grid"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

// Kernel computes one output cell at a time. Implementations must be pure
// and total: they may read any cell of the input but never the output, and
// they must return a value for every input (NaN and Inf included).
type Kernel interface {
	// Name identifies the kernel in logs, metrics and cache keys.
	Name() string

	// Shape returns the output dimensions for the given input, or an error
	// wrapping ErrDimensionMismatch when the input cannot be processed.
	Shape(in *grid.Matrix) (rows, cols int, err error)

	// Apply returns the output value of cell (row, col).
	Apply(in *grid.Matrix, row, col int) float64
}

// CellFunc is an element-wise transform of a single input value.
type CellFunc func(v float64, row, col int) float64

type mapKernel struct {
	name string
	fn   CellFunc
}

// Map wraps an element-wise function as a Kernel whose output has the same
// shape as its input.
func Map(name string, fn CellFunc) Kernel {
	return &mapKernel{name: name, fn: fn}
}

func (k *mapKernel) Name() string { return k.name }

func (k *mapKernel) Shape(in *grid.Matrix) (int, int, error) {
	r, c := in.Dims()
	return r, c, nil
}

func (k *mapKernel) Apply(in *grid.Matrix, row, col int) float64 {
	return k.fn(in.At(row, col), row, col)
}

// Identity copies every input cell.
func Identity() Kernel {
	return Map("identity", func(v float64, _, _ int) float64 { return v })
}

// Square computes v*v + 1.
func Square() Kernel {
	return Map("square", func(v float64, _, _ int) float64 { return v*v + 1.0 })
}

// Transform is a trigonometric/logarithmic mix with non-trivial per-cell cost.
func Transform() Kernel {
	return Map("transform", func(v float64, _, _ int) float64 {
		r := math.Sqrt(v*v + 1.0)
		r = math.Sin(r) * math.Cos(v)
		return r + math.Log1p(math.Abs(v))
	})
}

// Gelu applies the tanh approximation of GELU element-wise.
func Gelu() Kernel {
	return Map("gelu", func(v float64, _, _ int) float64 { return simd.Gelu(v) })
}

type stencilKernel struct{}

// Stencil combines a per-cell transform with 0.1x each of the four
// neighbouring input cells. Border cells skip the neighbour term.
func Stencil() Kernel {
	return stencilKernel{}
}

func (stencilKernel) Name() string { return "stencil" }

func (stencilKernel) Shape(in *grid.Matrix) (int, int, error) {
	r, c := in.Dims()
	return r, c, nil
}

func (stencilKernel) Apply(in *grid.Matrix, row, col int) float64 {
	rows, cols := in.Dims()
	v := in.At(row, col)

	r := math.Sin(v) * math.Cos(v)
	r += math.Sqrt(math.Abs(v) + 1.0)
	r *= simd.ExpFast(-v * 0.001)

	if row > 0 && row < rows-1 && col > 0 && col < cols-1 {
		r += 0.1 * simd.CrossSum(in.Data(), row*cols+col, cols)
	}
	return r
}

type matMulKernel struct {
	bt    *grid.Matrix // B transposed, so column j of B is row j of bt
	inner int
	cols  int
}

// MatMul returns the row-by-matrix kernel computing A x B, where A is the
// matrix passed to Process. B is transposed once here so each output cell is
// a contiguous dot product.
func MatMul(b *grid.Matrix) (Kernel, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: right-hand operand", ErrNilMatrix)
	}
	return &matMulKernel{bt: b.T(), inner: b.Rows(), cols: b.Cols()}, nil
}

func (k *matMulKernel) Name() string { return "matmul" }

func (k *matMulKernel) Shape(a *grid.Matrix) (int, int, error) {
	if a.Cols() != k.inner {
		return 0, 0, fmt.Errorf("%w: A is %dx%d, B is %dx%d", ErrDimensionMismatch, a.Rows(), a.Cols(), k.inner, k.cols)
	}
	return a.Rows(), k.cols, nil
}

func (k *matMulKernel) Apply(a *grid.Matrix, row, col int) float64 {
	return simd.DotProduct(a.Row(row), k.bt.Row(col))
}

var namedKernels = map[string]func() Kernel{
	"identity":  Identity,
	"square":    Square,
	"transform": Transform,
	"gelu":      Gelu,
	"stencil":   Stencil,
}

// KernelByName resolves one of the built-in element-wise kernels.
func KernelByName(name string) (Kernel, error) {
	ctor, ok := namedKernels[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kernel %q (have %s)", ErrInvalidConfig, name, strings.Join(KernelNames(), ", "))
	}
	return ctor(), nil
}

// KernelNames lists the names accepted by KernelByName, sorted.
func KernelNames() []string {
	names := make([]string, 0, len(namedKernels))
	for n := range namedKernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
