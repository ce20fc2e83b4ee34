package device

import (
	"sync"
)

// Buffer is a device array of uint32 elements.
//
// Kernels access the contents through Data while they run. Host code must
// only touch Data after waiting on the event of the last command that wrote
// the buffer, or go through Queue.EnqueueRead/EnqueueWrite.
type Buffer struct {
	data    []uint32
	release sync.Once
}

func newBuffer(n int) *Buffer {
	if n < 0 {
		panic("NewBuffer: negative length")
	}
	b := &Buffer{data: make([]uint32, n)}
	bufferBytes.Add(float64(n * 4))
	buffersAllocated.Inc()
	return b
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Data returns the backing slice.
func (b *Buffer) Data() []uint32 {
	return b.data
}

// Release drops the buffer from the allocation accounting. The buffer must
// not be used afterwards. Calling Release more than once is a no-op.
func (b *Buffer) Release() {
	b.release.Do(func() {
		bufferBytes.Sub(float64(len(b.data) * 4))
		b.data = nil
	})
}
