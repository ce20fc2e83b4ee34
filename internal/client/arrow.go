package client

import (
	"errors"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	ValueColumn  = "value"
	PrefixColumn = "prefix"
)

var (
	// ValueSchema describes scan requests.
	ValueSchema = arrow.NewSchema(
		[]arrow.Field{{Name: ValueColumn, Type: arrow.PrimitiveTypes.Uint32}},
		nil,
	)
	// ResultSchema describes scan responses.
	ResultSchema = arrow.NewSchema(
		[]arrow.Field{
			{Name: ValueColumn, Type: arrow.PrimitiveTypes.Uint32},
			{Name: PrefixColumn, Type: arrow.PrimitiveTypes.Uint32},
		},
		nil,
	)

	ErrMissingColumn = errors.New("missing column")
)

// RecordBatchBuilder creates Arrow RecordBatches from uint32 columns.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildValues wraps values in a batch with ValueSchema.
func (b *RecordBatchBuilder) BuildValues(values []uint32) arrow.RecordBatch {
	col := b.uint32Array(values)
	defer col.Release()
	return array.NewRecordBatch(ValueSchema, []arrow.Array{col}, int64(len(values)))
}

// BuildResult wraps values and their prefix sums in a batch with ResultSchema.
// It panics if the columns differ in length.
func (b *RecordBatchBuilder) BuildResult(values, prefix []uint32) arrow.RecordBatch {
	if len(values) != len(prefix) {
		panic(fmt.Sprintf("BuildResult: %d values but %d prefix sums", len(values), len(prefix)))
	}
	cols := []arrow.Array{b.uint32Array(values), b.uint32Array(prefix)}
	defer cols[0].Release()
	defer cols[1].Release()
	return array.NewRecordBatch(ResultSchema, cols, int64(len(values)))
}

func (b *RecordBatchBuilder) uint32Array(values []uint32) arrow.Array {
	ub := array.NewUint32Builder(b.mem)
	defer ub.Release()
	ub.AppendValues(values, nil)
	return ub.NewArray()
}

// Column copies the named uint32 column out of rec. Null entries are rejected.
func Column(rec arrow.RecordBatch, name string) ([]uint32, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	arr, ok := rec.Column(indices[0]).(*array.Uint32)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want uint32", name, rec.Column(indices[0]).DataType())
	}
	if arr.NullN() > 0 {
		return nil, fmt.Errorf("column %q has %d nulls", name, arr.NullN())
	}
	return slices.Clone(arr.Uint32Values()), nil
}
