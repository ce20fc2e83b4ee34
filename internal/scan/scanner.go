// Package scan computes inclusive prefix sums of uint32 arrays on a device.
//
// A global scan is decomposed into block-local scans plus carry fix-ups:
// each block is scanned independently and its total is written to a level
// buffer, the level buffers are scanned recursively until one block holds
// all sums, and the resolved carries are then added back down the levels.
//
// A Scanner is not safe for concurrent use. Callers sharing one must
// serialise InclusiveScan and EnsureBuffersReady themselves.
package scan

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-scan/internal/device"
)

// MinBlockSize is the smallest usable block size. With one lane per block
// the levels would never shrink.
const MinBlockSize = 2

// ErrBlockSizeTooSmall is returned by New when the device cannot run the
// kernels with at least MinBlockSize lanes per work-group.
var ErrBlockSizeTooSmall = errors.New("scan: block size below minimum")

// Scanner owns the compiled kernels and the level buffers for one device.
type Scanner struct {
	backend   device.Backend
	blockSize int
	localScan *device.Kernel
	fixupScan *device.Kernel
	arena     levelArena
}

type options struct {
	maxBlockSize int
}

// Option configures New.
type Option func(*options)

// WithMaxBlockSize caps the probed block size. Values < 1 are ignored.
func WithMaxBlockSize(n int) Option {
	return func(o *options) {
		o.maxBlockSize = n
	}
}

// New builds a Scanner in two phases. The probe phase compiles both kernels
// with a block size of 1 and asks the device for the largest work-group each
// supports; the commit phase recompiles both with the smaller of the two, so
// their workgroup memory layouts agree.
func New(b device.Backend, opts ...Option) (*Scanner, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	blockSize, err := probe(b)
	if err != nil {
		return nil, err
	}
	if o.maxBlockSize > 0 && blockSize > o.maxBlockSize {
		blockSize = o.maxBlockSize
	}
	if blockSize < MinBlockSize {
		return nil, fmt.Errorf("%w: device supports %d lanes, need at least %d", ErrBlockSizeTooSmall, blockSize, MinBlockSize)
	}

	local, fixup, err := compile(b, blockSize)
	if err != nil {
		return nil, fmt.Errorf("scan: commit block size %d: %w", blockSize, err)
	}

	log.Debug().Str("backend", b.Name()).Int("block_size", blockSize).Msg("Determined block size")

	return &Scanner{
		backend:   b,
		blockSize: blockSize,
		localScan: local,
		fixupScan: fixup,
		arena:     levelArena{blockSize: blockSize},
	}, nil
}

func probe(b device.Backend) (int, error) {
	local, fixup, err := compile(b, 1)
	if err != nil {
		return 0, fmt.Errorf("scan: probe: %w", err)
	}
	return min(b.KernelWorkGroupSize(local), b.KernelWorkGroupSize(fixup)), nil
}

func compile(b device.Backend, blockSize int) (local, fixup *device.Kernel, err error) {
	prog, err := b.Compile(programSource, fmt.Sprintf("-D%s=%d", blockSizeConst, blockSize))
	if err != nil {
		return nil, nil, err
	}
	if local, err = prog.Kernel(localScanEntry); err != nil {
		return nil, nil, err
	}
	if fixup, err = prog.Kernel(fixupScanEntry); err != nil {
		return nil, nil, err
	}
	return local, fixup, nil
}

// BlockSize returns the lanes per work-group both kernels were built for.
func (s *Scanner) BlockSize() int {
	return s.blockSize
}

// Levels returns the recursion depth for the current input size.
func (s *Scanner) Levels() int {
	return len(s.arena.levels)
}

// EnsureBuffersReady sizes the level buffers for n input elements,
// discarding the previous ones if n changed. It reports whether it allocated.
func (s *Scanner) EnsureBuffersReady(n int) bool {
	return s.arena.ensure(s.backend, n)
}

// InclusiveScan enqueues the scan of input into output and returns the event
// of the last dispatch. output[i] becomes input[0]+...+input[i] modulo 2^32
// for every i < input.Len(); output beyond that is left untouched.
//
// Every dispatch waits only on the one before it; the first waits on
// waitList. When a launch fails it returns only after the dispatches already
// enqueued have finished. It panics if output is shorter than input.
func (s *Scanner) InclusiveScan(q *device.Queue, input, output *device.Buffer, waitList ...*device.Event) (_ *device.Event, err error) {
	n := input.Len()
	if output.Len() < n {
		panic(fmt.Sprintf("InclusiveScan: output holds %d elements, input has %d", output.Len(), n))
	}
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d elements exceed the uint32 index range", device.ErrInvalidArgument, n)
	}

	s.EnsureBuffersReady(n)
	scansTotal.Inc()
	scannedElements.Add(float64(n))

	if n == 0 {
		return q.EnqueueMarker(waitList...), nil
	}

	// Whatever was enqueued, even on a failed launch, keeps the levels alive.
	var last *device.Event
	defer func() {
		if last == nil {
			return
		}
		s.arena.track(last)
		if err != nil {
			_ = last.Wait()
		}
	}()
	enqueue := func(k *device.Kernel, global int, args []any, waitList ...*device.Event) error {
		ev, err := q.EnqueueKernel(k, device.NDRange{Global: global, Local: s.blockSize}, args, waitList...)
		if err != nil {
			return err
		}
		last = ev
		return nil
	}

	levels := s.arena.levels
	bs := s.blockSize

	// Downward: scan each block, emitting block totals into the next level.
	var sums *device.Buffer
	if len(levels) > 0 {
		sums = levels[0].buf
	}
	if err := enqueue(s.localScan, s.arena.aligned, []any{input, output, sums, uint32(n)}, waitList...); err != nil {
		return nil, fmt.Errorf("scan: input: %w", err)
	}

	for j := 1; j <= len(levels); j++ {
		cur := levels[j-1]
		var next *device.Buffer
		if j < len(levels) {
			next = levels[j].buf
		}
		if err := enqueue(s.localScan, cur.buf.Len(), []any{cur.buf, cur.buf, next, uint32(cur.count)}, last); err != nil {
			return nil, fmt.Errorf("scan: level %d: %w", j-1, err)
		}
	}

	if len(levels) == 0 {
		return last, nil
	}

	// Upward: resolved carries flow from the deepest level back to the output.
	for j := len(levels) - 1; j >= 1; j-- {
		cur := levels[j-1]
		if err := enqueue(s.fixupScan, cur.buf.Len()-bs, []any{cur.buf, levels[j].buf, uint32(cur.count)}, last); err != nil {
			return nil, fmt.Errorf("scan: fix-up level %d: %w", j-1, err)
		}
	}

	if err := enqueue(s.fixupScan, s.arena.aligned-bs, []any{output, levels[0].buf, uint32(n)}, last); err != nil {
		return nil, fmt.Errorf("scan: fix-up output: %w", err)
	}
	return last, nil
}

// Close releases the level buffers once the scans already queued against
// them have finished. The Scanner may still be used; the next call
// reallocates them.
func (s *Scanner) Close() {
	s.arena.retire()
}
