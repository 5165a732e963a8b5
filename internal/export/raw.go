package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

// WriteRaw writes m as row-major little-endian IEEE-754 float64 values with
// no header. Readers need the dimensions out of band.
func WriteRaw(w io.Writer, m *grid.Matrix) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, m.Data()); err != nil {
		return fmt.Errorf("write raw matrix: %w", err)
	}
	return bw.Flush()
}

// WriteRawFile writes m to path in the WriteRaw format, truncating any
// existing file.
func WriteRawFile(path string, m *grid.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRaw(f, m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadRaw reads a rows x cols matrix written by WriteRaw.
func ReadRaw(r io.Reader, rows, cols int) (*grid.Matrix, error) {
	m, err := grid.New(rows, cols)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bufio.NewReader(r), binary.LittleEndian, m.Data()); err != nil {
		return nil, fmt.Errorf("read raw matrix %dx%d: %w", rows, cols, err)
	}
	return m, nil
}
