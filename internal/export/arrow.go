package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quiver/internal/grid"
)

const (
	metaRows = "quiver.rows"
	metaCols = "quiver.cols"
)

// ErrBadRecord is returned when an Arrow record does not carry a matrix in
// the layout produced by RecordBuilder.
var ErrBadRecord = errors.New("export: record is not a quiver matrix")

// RecordBuilder converts matrices into Arrow RecordBatches with one row per
// matrix row: {row: int32, values: fixed_size_list<float64>[cols]}. The
// matrix dimensions and any caller metadata travel in the schema metadata.
type RecordBuilder struct {
	mem memory.Allocator
}

// NewRecordBuilder creates a new builder.
func NewRecordBuilder(mem memory.Allocator) *RecordBuilder {
	return &RecordBuilder{mem: mem}
}

// Build converts m into a RecordBatch. The caller owns the returned record
// and must Release it.
func (b *RecordBuilder) Build(m *grid.Matrix, meta map[string]string) (arrow.RecordBatch, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrBadRecord)
	}
	rows, cols := m.Dims()

	keys := []string{metaRows, metaCols}
	vals := []string{strconv.Itoa(rows), strconv.Itoa(cols)}
	for k, v := range meta {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	md := arrow.NewMetadata(keys, vals)

	listType := arrow.FixedSizeListOf(int32(cols), arrow.PrimitiveTypes.Float64)
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "row", Type: arrow.PrimitiveTypes.Int32},
			{Name: "values", Type: listType},
		},
		&md,
	)

	rowBuilder := array.NewInt32Builder(b.mem)
	defer rowBuilder.Release()

	listBuilder := array.NewFixedSizeListBuilder(b.mem, int32(cols), arrow.PrimitiveTypes.Float64)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Float64Builder)

	for i := 0; i < rows; i++ {
		rowBuilder.Append(int32(i))
		listBuilder.Append(true)
		valueBuilder.AppendValues(m.Row(i), nil)
	}

	rowArr := rowBuilder.NewArray()
	defer rowArr.Release()
	listArr := listBuilder.NewArray()
	defer listArr.Release()

	return array.NewRecordBatch(schema, []arrow.Array{rowArr, listArr}, int64(rows)), nil
}

// ToMatrix rebuilds a matrix from a record produced by Build.
func ToMatrix(rec arrow.RecordBatch) (*grid.Matrix, error) {
	md := rec.Schema().Metadata()
	rows, err := metaInt(md, metaRows)
	if err != nil {
		return nil, err
	}
	cols, err := metaInt(md, metaCols)
	if err != nil {
		return nil, err
	}
	if int64(rows) != rec.NumRows() || rec.NumCols() != 2 {
		return nil, fmt.Errorf("%w: %d rows for %dx%d", ErrBadRecord, rec.NumRows(), rows, cols)
	}

	lists, ok := rec.Column(1).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: values column is %s", ErrBadRecord, rec.Column(1).DataType())
	}
	values, ok := lists.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: list values are %s", ErrBadRecord, lists.ListValues().DataType())
	}

	m, err := grid.New(rows, cols)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		start, _ := lists.ValueOffsets(i)
		dst := m.Row(i)
		for j := range dst {
			dst[j] = values.Value(int(start) + j)
		}
	}
	return m, nil
}

func metaInt(md arrow.Metadata, key string) (int, error) {
	idx := md.FindKey(key)
	if idx < 0 {
		return 0, fmt.Errorf("%w: missing %s", ErrBadRecord, key)
	}
	n, err := strconv.Atoi(md.Values()[idx])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadRecord, key, err)
	}
	return n, nil
}

// WriteIPC writes rec as a single-batch Arrow IPC stream.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// ReadIPC reads every batch of an Arrow IPC stream written by WriteIPC and
// returns the first one as a matrix.
func ReadIPC(r io.Reader, mem memory.Allocator) (*grid.Matrix, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("create IPC reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty stream", ErrBadRecord)
	}
	return ToMatrix(reader.Record())
}
