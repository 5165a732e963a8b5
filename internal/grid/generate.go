package grid

import "math"

// Generate fills a rows x cols matrix with reproducible pseudo-random values
// in [0, 100). The same seed always yields the same matrix.
func Generate(rows, cols int, seed uint32) (*Matrix, error) {
	m, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	state := seed
	for i := range m.data {
		state = state*1103515245 + 12345
		m.data[i] = float64(state%1000) / 10.0
	}
	return m, nil
}

// Sequence fills cell (i, j) with i*cols + j.
func Sequence(rows, cols int) (*Matrix, error) {
	m, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	for i := range m.data {
		m.data[i] = float64(i)
	}
	return m, nil
}

// Wave fills cell (i, j) with |sin(i + j)|, the comparison-demo input.
func Wave(rows, cols int) (*Matrix, error) {
	m, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.data[i*cols+j] = math.Abs(math.Sin(float64(i + j)))
		}
	}
	return m, nil
}
