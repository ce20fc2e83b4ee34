package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildValues(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb := builder.BuildValues(nil)
		defer rb.Release()
		assert.Equal(t, int64(0), rb.NumRows())
		got, err := Column(rb, ValueColumn)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Valid input", func(t *testing.T) {
		rb := builder.BuildValues([]uint32{1, 2, 3})
		defer rb.Release()

		assert.Equal(t, int64(3), rb.NumRows())
		assert.Equal(t, int64(1), rb.NumCols())
		assert.Equal(t, ValueColumn, rb.ColumnName(0))

		got, err := Column(rb, ValueColumn)
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2, 3}, got)
	})
}

func TestBuildResult(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	rb := builder.BuildResult([]uint32{1, 2, 3}, []uint32{1, 3, 6})
	defer rb.Release()
	assert.True(t, rb.Schema().Equal(ResultSchema))

	prefix, err := Column(rb, PrefixColumn)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 6}, prefix)

	assert.Panics(t, func() {
		builder.BuildResult([]uint32{1}, nil)
	})
}

func TestColumn_Errors(t *testing.T) {
	pool := memory.NewGoAllocator()

	rb := NewRecordBatchBuilder(pool).BuildValues([]uint32{1})
	defer rb.Release()
	_, err := Column(rb, PrefixColumn)
	assert.ErrorIs(t, err, ErrMissingColumn)

	fb := array.NewFloat32Builder(pool)
	defer fb.Release()
	fb.AppendValues([]float32{1.0}, nil)
	fa := fb.NewArray()
	defer fa.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: ValueColumn, Type: arrow.PrimitiveTypes.Float32}}, nil)
	frb := array.NewRecordBatch(schema, []arrow.Array{fa}, 1)
	defer frb.Release()
	_, err = Column(frb, ValueColumn)
	assert.ErrorContains(t, err, "want uint32")

	ub := array.NewUint32Builder(pool)
	defer ub.Release()
	ub.AppendValues([]uint32{1, 0}, []bool{true, false})
	ua := ub.NewArray()
	defer ua.Release()
	nrb := array.NewRecordBatch(ValueSchema, []arrow.Array{ua}, 2)
	defer nrb.Release()
	_, err = Column(nrb, ValueColumn)
	assert.ErrorContains(t, err, "nulls")
}
