// Package compact packs the indices of set flags into a dense array using a
// counting scan followed by a scatter.
package compact

import (
	_ "embed"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-scan/internal/device"
	"github.com/23skdu/longbow-scan/internal/scan"
)

//go:embed scatter.wgsl
var programSource string

const scatterEntry = "scatter_ids"

func init() {
	device.RegisterKernel(scatterEntry, device.KernelSpec{
		Func: scatterIDs,
		Args: []device.ArgKind{device.ArgBuffer, device.ArgBuffer, device.ArgBuffer, device.ArgUint},
	})
}

// scatterIDs writes i to ids[counts[i]-1] for every set flag.
// args: flags, counts, ids, size.
func scatterIDs(wi *device.WorkItem, args []any) {
	flags := args[0].(*device.Buffer).Data()
	counts := args[1].(*device.Buffer).Data()
	ids := args[2].(*device.Buffer).Data()
	size := int(args[3].(uint32))

	if i := wi.GlobalID; i < size && flags[i] != 0 {
		ids[counts[i]-1] = uint32(i)
	}
}

// Result is the outcome of a compaction.
type Result struct {
	// Count is the number of set flags.
	Count int
	// IDs holds the indices of the set flags in ascending order.
	IDs []uint32
}

// Compactor shares a Scanner's block size and level buffers.
type Compactor struct {
	backend device.Backend
	scanner *scan.Scanner
	scatter *device.Kernel
}

func New(b device.Backend, s *scan.Scanner) (*Compactor, error) {
	bs := s.BlockSize()
	prog, err := b.Compile(programSource, fmt.Sprintf("-DBLK_SIZE=%d", bs))
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	k, err := prog.Kernel(scatterEntry)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	if limit := b.KernelWorkGroupSize(k); limit < bs {
		return nil, fmt.Errorf("%w: %s supports %d lanes, scanner uses %d", device.ErrCompile, scatterEntry, limit, bs)
	}
	return &Compactor{backend: b, scanner: s, scatter: k}, nil
}

// Compact returns the indices i with flags[i] == 1. Every flag must be 0 or 1.
// It blocks until the device has finished.
func (c *Compactor) Compact(q *device.Queue, flags []uint32) (*Result, error) {
	for i, f := range flags {
		if f > 1 {
			return nil, fmt.Errorf("%w: flag %d is %d, want 0 or 1", device.ErrInvalidArgument, i, f)
		}
	}
	compactionsTotal.Inc()

	n := len(flags)
	if n == 0 {
		return &Result{IDs: []uint32{}}, nil
	}

	flagBuf := c.backend.NewBuffer(n)
	counts := c.backend.NewBuffer(n)
	ids := c.backend.NewBuffer(n)
	defer flagBuf.Release()
	defer counts.Release()
	defer ids.Release()

	written := q.EnqueueWrite(flagBuf, flags)
	ev, err := c.scanner.InclusiveScan(q, flagBuf, counts, written)
	if err != nil {
		// The write may still be copying into flagBuf.
		_ = written.Wait()
		return nil, err
	}

	bs := c.scanner.BlockSize()
	global := (n + bs - 1) / bs * bs
	scattered, err := q.EnqueueKernel(c.scatter,
		device.NDRange{Global: global, Local: bs},
		[]any{flagBuf, counts, ids, uint32(n)},
		ev)
	if err != nil {
		// The scan may still be running against the buffers released below.
		_ = ev.Wait()
		return nil, fmt.Errorf("compact: %w", err)
	}

	hostCounts := make([]uint32, n)
	hostIDs := make([]uint32, n)
	if err := device.WaitAll(
		q.EnqueueRead(counts, hostCounts, scattered),
		q.EnqueueRead(ids, hostIDs, scattered),
	); err != nil {
		return nil, err
	}

	count := int(hostCounts[n-1])
	selectedTotal.Add(float64(count))
	selectivity.Observe(float64(count) / float64(n))
	log.Trace().Int("flags", n).Int("selected", count).Msg("Compacted")

	return &Result{Count: count, IDs: hostIDs[:count]}, nil
}
