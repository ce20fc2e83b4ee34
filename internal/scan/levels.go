package scan

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-scan/internal/device"
)

// level is one layer of the recursion: the per-block sums of the layer below.
type level struct {
	buf *device.Buffer
	// count is the number of real sums; the rest of buf is block padding.
	count int
}

// levelArena owns the carry buffers for one input size. It is rebuilt as a
// whole when the size changes and is never partially valid. Retired buffers
// are only released once every scan queued against them has finished.
type levelArena struct {
	blockSize int
	ready     bool
	inputSize int
	aligned   int
	levels    []level
	builds    int
	// pending holds the final events of scans that may still use levels.
	pending []*device.Event
}

func alignUp(n, blockSize int) int {
	if r := n % blockSize; r != 0 {
		return n + blockSize - r
	}
	return n
}

// ensure sizes the arena for n input elements. It reports whether the
// buffers were rebuilt.
func (a *levelArena) ensure(b device.Backend, n int) bool {
	if a.ready && a.inputSize == n {
		return false
	}
	a.retire()

	a.aligned = alignUp(n, a.blockSize)
	for size := a.aligned; size > a.blockSize; {
		count := size / a.blockSize
		size = alignUp(count, a.blockSize)
		a.levels = append(a.levels, level{buf: b.NewBuffer(size), count: count})
		log.Trace().Int("level", len(a.levels)).Int("elements", size).Int("sums", count).Msg("Allocated level buffer")
	}

	a.inputSize = n
	a.ready = true
	a.builds++

	levelRebuilds.Inc()
	levelDepth.Set(float64(len(a.levels)))
	levelElements.Set(float64(a.elements()))
	return true
}

func (a *levelArena) elements() int {
	total := 0
	for _, l := range a.levels {
		total += l.buf.Len()
	}
	return total
}

// track records ev as the last dispatch of a scan using the current levels.
func (a *levelArena) track(ev *device.Event) {
	live := a.pending[:0]
	for _, e := range a.pending {
		select {
		case <-e.Done():
		default:
			live = append(live, e)
		}
	}
	a.pending = append(live, ev)
}

// retire detaches the current levels and releases them once every tracked
// scan has completed.
func (a *levelArena) retire() {
	levels, pending := a.levels, a.pending
	a.levels, a.pending, a.ready = nil, nil, false
	if len(levels) == 0 {
		return
	}

	release := func() {
		for _, l := range levels {
			l.buf.Release()
		}
	}
	if len(pending) == 0 {
		release()
		return
	}
	go func() {
		_ = device.WaitAll(pending...)
		release()
	}()
}
