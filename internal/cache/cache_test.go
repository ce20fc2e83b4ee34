package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache(0)

	_, ok := c.Get([]uint32{1, 2, 3})
	assert.False(t, ok)

	c.Put([]uint32{1, 2, 3}, []uint32{1, 3, 6})
	got, ok := c.Get([]uint32{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 3, 6}, got)
	assert.Equal(t, 1, c.Size())

	_, ok = c.Get([]uint32{1, 2})
	assert.False(t, ok)
}

func TestMapCache_Copies(t *testing.T) {
	c := NewMapCache(0)
	in := []uint32{4, 4}
	prefix := []uint32{4, 8}
	c.Put(in, prefix)

	in[0] = 9
	prefix[0] = 9
	got, ok := c.Get([]uint32{4, 4})
	require.True(t, ok)
	assert.Equal(t, []uint32{4, 8}, got)

	got[1] = 0
	again, _ := c.Get([]uint32{4, 4})
	assert.Equal(t, []uint32{4, 8}, again)
}

func TestMapCache_Evicts(t *testing.T) {
	c := NewMapCache(2)
	c.Put([]uint32{1}, []uint32{1})
	c.Put([]uint32{2}, []uint32{2})
	c.Put([]uint32{1}, []uint32{1})
	assert.Equal(t, 2, c.Size())

	c.Put([]uint32{3}, []uint32{3})
	assert.Equal(t, 2, c.Size())

	_, ok := c.Get([]uint32{1})
	assert.False(t, ok)
	_, ok = c.Get([]uint32{3})
	assert.True(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key([]uint32{1, 2}), Key([]uint32{1, 2}))
	assert.NotEqual(t, Key([]uint32{1, 2}), Key([]uint32{2, 1}))
	assert.NotEqual(t, Key(nil), Key([]uint32{0}))
}
