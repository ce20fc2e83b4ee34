package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-scan/internal/scan"
)

func TestGenerate(t *testing.T) {
	ones, err := generate("ones", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 1, 1, 1, 1}, ones)

	flags, err := generate("flags", 100, 1)
	require.NoError(t, err)
	for _, f := range flags {
		assert.LessOrEqual(t, f, uint32(1))
	}

	a, err := generate("random", 10, 7)
	require.NoError(t, err)
	b, err := generate("random", 10, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed, same input")

	overflow, err := generate("overflow", 3, 1)
	require.NoError(t, err)
	ref := scan.Reference(overflow)
	assert.Less(t, ref[1], ref[0], "running sum wraps")

	_, err = generate("zigzag", 1, 1)
	assert.Error(t, err)
	_, err = generate("ones", -1, 1)
	assert.Error(t, err)
}

func TestResultStreamRoundTrip(t *testing.T) {
	values := []uint32{3, 1, 4, 1, 5}
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, values, scan.Reference(values)))

	got, err := readValues(&buf, memory.NewGoAllocator())
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestReadValues_Invalid(t *testing.T) {
	_, err := readValues(bytes.NewReader([]byte("not arrow")), memory.NewGoAllocator())
	assert.Error(t, err)
}

func TestFirstMismatch(t *testing.T) {
	i, ok := firstMismatch([]uint32{1, 2, 3}, []uint32{1, 2, 3})
	assert.True(t, ok)
	assert.Equal(t, -1, i)

	i, ok = firstMismatch([]uint32{1, 9, 3}, []uint32{1, 2, 3})
	assert.False(t, ok)
	assert.Equal(t, 1, i)

	i, ok = firstMismatch([]uint32{1}, []uint32{1, 2})
	assert.False(t, ok)
	assert.Equal(t, 1, i)

	i, ok = firstMismatch([]uint32{1, 2}, []uint32{1})
	assert.False(t, ok)
	assert.Equal(t, 1, i)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, latencySummary{}, summarize(nil))

	s := summarize([]time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond})
	assert.Equal(t, 2*time.Millisecond, s.Mean)
	assert.Equal(t, 2*time.Millisecond, s.P50)
	assert.Equal(t, 3*time.Millisecond, s.P99)
	assert.InDelta(t, float64(time.Millisecond), float64(s.StdDev), 1)
	assert.InDelta(t, 500000.0, s.Throughput(1000), 1e-3)

	one := summarize([]time.Duration{time.Second})
	assert.Zero(t, one.StdDev)
	assert.Equal(t, time.Second, one.P99)
}
