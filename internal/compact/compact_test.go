package compact

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-scan/internal/device"
	"github.com/23skdu/longbow-scan/internal/scan"
)

type cappedBackend struct {
	*device.CPUBackend
	limit int
}

func (c *cappedBackend) KernelWorkGroupSize(k *device.Kernel) int {
	if k.Name() == scatterEntry {
		return c.limit
	}
	return c.CPUBackend.KernelWorkGroupSize(k)
}

func newCompactor(t *testing.T, blockSize int) (*Compactor, *device.Queue) {
	t.Helper()
	b := device.NewCPUBackend(device.Config{MaxWorkGroupSize: blockSize, Workers: 4})
	s, err := scan.New(b)
	require.NoError(t, err)
	c, err := New(b, s)
	require.NoError(t, err)
	return c, b.NewQueue()
}

func expectedIDs(flags []uint32) []uint32 {
	ids := []uint32{}
	for i, f := range flags {
		if f != 0 {
			ids = append(ids, uint32(i))
		}
	}
	return ids
}

func TestCompact(t *testing.T) {
	c, q := newCompactor(t, 4)

	res, err := c.Compact(q, []uint32{0, 1, 1, 0, 0, 0, 1, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, []uint32{1, 2, 6, 8}, res.IDs)
}

func TestCompact_Random(t *testing.T) {
	c, q := newCompactor(t, 8)
	rng := rand.New(rand.NewSource(99))

	for _, n := range []int{1, 7, 8, 9, 64, 65, 200, 1000} {
		flags := make([]uint32, n)
		for i := range flags {
			flags[i] = uint32(rng.Intn(2))
		}
		res, err := c.Compact(q, flags)
		require.NoError(t, err, "n=%d", n)
		want := expectedIDs(flags)
		assert.Equal(t, len(want), res.Count, "n=%d", n)
		assert.Equal(t, want, res.IDs, "n=%d", n)
	}
}

func TestCompact_AllOrNothing(t *testing.T) {
	c, q := newCompactor(t, 4)

	res, err := c.Compact(q, make([]uint32, 37))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.IDs)

	ones := make([]uint32, 37)
	for i := range ones {
		ones[i] = 1
	}
	res, err = c.Compact(q, ones)
	require.NoError(t, err)
	assert.Equal(t, 37, res.Count)
	for i, id := range res.IDs {
		assert.Equal(t, uint32(i), id)
	}
}

func TestCompact_Empty(t *testing.T) {
	c, q := newCompactor(t, 4)
	res, err := c.Compact(q, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.IDs)
}

func TestCompact_RejectsNonBinaryFlags(t *testing.T) {
	c, q := newCompactor(t, 4)
	_, err := c.Compact(q, []uint32{0, 1, 2})
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestNew_ScatterLimitBelowBlockSize(t *testing.T) {
	b := &cappedBackend{CPUBackend: device.NewCPUBackend(device.Config{MaxWorkGroupSize: 16}), limit: 8}
	s, err := scan.New(b.CPUBackend)
	require.NoError(t, err)
	require.Equal(t, 16, s.BlockSize())

	_, err = New(b, s)
	assert.ErrorIs(t, err, device.ErrCompile)
}

func TestCompact_ScanLaunchFailure(t *testing.T) {
	c, _ := newCompactor(t, 8)
	q := device.NewCPUBackend(device.Config{MaxWorkGroupSize: 4}).NewQueue()

	flags := make([]uint32, 4096)
	for i := 0; i < 3; i++ {
		_, err := c.Compact(q, flags)
		require.ErrorIs(t, err, device.ErrDispatch)
	}

	res, err := c.Compact(device.NewCPUBackend(device.Config{MaxWorkGroupSize: 8}).NewQueue(), []uint32{0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, res.IDs)
}
