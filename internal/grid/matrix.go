package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrBadShape is returned when a requested shape has a negative dimension
	// or more cells than an int can count.
	ErrBadShape = errors.New("grid: invalid shape")

	// ErrShortData is returned when backing data does not match rows*cols.
	ErrShortData = errors.New("grid: data length does not match dimensions")
)

// Matrix is a fixed-size rows x cols grid of float64 values stored row-major
// in one contiguous slice.
type Matrix struct {
	rows int
	cols int
	data []float64
}

// cells returns rows*cols, rejecting negative or overflowing shapes.
func cells(rows, cols int) (int, error) {
	if rows < 0 || cols < 0 || (cols > 0 && rows > math.MaxInt/cols) {
		return 0, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}
	return rows * cols, nil
}

// New allocates a zero-filled matrix.
func New(rows, cols int) (*Matrix, error) {
	n, err := cells(rows, cols)
	if err != nil {
		return nil, err
	}
	return &Matrix{
		rows: rows,
		cols: cols,
		data: make([]float64, n),
	}, nil
}

// NewFromData wraps a copy of data. len(data) must equal rows*cols; the
// length is checked before anything is allocated.
func NewFromData(rows, cols int, data []float64) (*Matrix, error) {
	n, err := cells(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: got %d values for %dx%d", ErrShortData, len(data), rows, cols)
	}
	m := &Matrix{rows: rows, cols: cols, data: make([]float64, n)}
	copy(m.data, data)
	return m, nil
}

// NewFromRows builds a matrix from a slice of equal-length rows.
func NewFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0)
	}
	cols := len(rows[0])
	m, err := New(len(rows), cols)
	if err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShortData, i, len(r), cols)
		}
		copy(m.data[i*cols:(i+1)*cols], r)
	}
	return m, nil
}

// Dims returns the dimensions (rows, cols) of the matrix.
func (m *Matrix) Dims() (int, int) {
	return m.rows, m.cols
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// At returns the value at (i, j). Out of range indices panic.
func (m *Matrix) At(i, j int) float64 {
	return m.data[i*m.cols+j]
}

// Set sets the value at (i, j). Out of range indices panic.
func (m *Matrix) Set(i, j int, v float64) {
	m.data[i*m.cols+j] = v
}

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Data returns the underlying row-major storage. Callers that mutate it
// mutate the matrix.
func (m *Matrix) Data() []float64 {
	return m.data
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{rows: m.rows, cols: m.cols, data: make([]float64, len(m.data))}
	copy(out.data, m.data)
	return out
}

// T returns a transposed copy.
func (m *Matrix) T() *Matrix {
	out := &Matrix{rows: m.cols, cols: m.rows, data: make([]float64, len(m.data))}
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = m.data[i*m.cols+j]
		}
	}
	return out
}

// Equal reports whether both matrices have the same shape and bit-identical
// cells.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	for i, v := range m.data {
		if v != o.data[i] {
			return false
		}
	}
	return true
}

// RowIsZero reports whether every cell of row i is zero.
func (m *Matrix) RowIsZero(i int) bool {
	for _, v := range m.Row(i) {
		if v != 0 {
			return false
		}
	}
	return true
}

// ToDense converts the matrix to a gonum Dense sharing no storage.
// gonum does not allow zero-sized Dense matrices, so empty grids return nil.
func (m *Matrix) ToDense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	raw := make([]float64, len(m.data))
	copy(raw, m.data)
	return mat.NewDense(m.rows, m.cols, raw)
}

// FromDense copies any gonum matrix into a new grid Matrix.
func FromDense(d mat.Matrix) *Matrix {
	r, c := d.Dims()
	out := &Matrix{rows: r, cols: c, data: make([]float64, r*c)}
	if dense, ok := d.(*mat.Dense); ok {
		raw := dense.RawMatrix()
		for i := 0; i < r; i++ {
			copy(out.data[i*c:(i+1)*c], raw.Data[i*raw.Stride:i*raw.Stride+c])
		}
		return out
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*c+j] = d.At(i, j)
		}
	}
	return out
}
