package device

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Queue submits commands to a device. Commands are asynchronous: each
// Enqueue call returns at once with an Event, and commands only run after
// every event in their wait-list has completed. There is no implicit
// ordering between commands; chain them through wait-lists.
//
// If any event in a wait-list failed, the command does not run and its own
// event fails with the same error.
type Queue struct {
	exec executor
}

// EnqueueKernel launches k over r. Launch problems that can be detected up
// front (bad range, wrong arguments) are returned directly; failures while
// running are reported through the returned event.
func (q *Queue) EnqueueKernel(k *Kernel, r NDRange, args []any, waitList ...*Event) (*Event, error) {
	if err := q.checkRange(k, r); err != nil {
		dispatchFailures.WithLabelValues(k.name).Inc()
		return nil, err
	}
	if err := k.checkArgs(args); err != nil {
		dispatchFailures.WithLabelValues(k.name).Inc()
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	// Snapshot so callers may reuse their slice.
	args = append([]any(nil), args...)

	ev := newEvent(k.name)
	go func() {
		if err := WaitAll(waitList...); err != nil {
			ev.complete(fmt.Errorf("%s: dependency failed: %w", k.name, err))
			return
		}
		dispatchesTotal.WithLabelValues(k.name).Inc()
		if err := q.exec.execute(k, r, args); err != nil {
			dispatchFailures.WithLabelValues(k.name).Inc()
			log.Error().Err(err).Str("kernel", k.name).Int("global", r.Global).Int("local", r.Local).Msg("Kernel failed")
			ev.complete(fmt.Errorf("%w: %w", ErrDispatch, err))
			return
		}
		ev.complete(nil)
	}()
	return ev, nil
}

func (q *Queue) checkRange(k *Kernel, r NDRange) error {
	switch {
	case r.Local <= 0:
		return fmt.Errorf("%w: %s local size %d must be positive", ErrDispatch, k.name, r.Local)
	case r.Global < 0:
		return fmt.Errorf("%w: %s global size %d is negative", ErrDispatch, k.name, r.Global)
	case r.Global%r.Local != 0:
		return fmt.Errorf("%w: %s global size %d is not a multiple of local size %d", ErrDispatch, k.name, r.Global, r.Local)
	case r.Local > q.exec.maxWorkGroupSize(k):
		return fmt.Errorf("%w: %s local size %d exceeds kernel limit %d", ErrDispatch, k.name, r.Local, q.exec.maxWorkGroupSize(k))
	case k.workgroupSize > 0 && r.Local != k.workgroupSize:
		return fmt.Errorf("%w: %s was compiled for work-groups of %d, dispatched with %d", ErrDispatch, k.name, k.workgroupSize, r.Local)
	}
	return nil
}

// EnqueueWrite copies src into the start of buf once the wait-list completes.
// src is copied at enqueue time. It panics if src does not fit.
func (q *Queue) EnqueueWrite(buf *Buffer, src []uint32, waitList ...*Event) *Event {
	if len(src) > buf.Len() {
		panic(fmt.Sprintf("EnqueueWrite: %d elements do not fit in buffer of %d", len(src), buf.Len()))
	}
	snapshot := append([]uint32(nil), src...)
	ev := newEvent("write")
	go func() {
		if err := WaitAll(waitList...); err != nil {
			ev.complete(fmt.Errorf("write: dependency failed: %w", err))
			return
		}
		copy(buf.data, snapshot)
		ev.complete(nil)
	}()
	return ev
}

// EnqueueRead copies the start of buf into dst once the wait-list completes.
// dst must not be touched until the returned event is done. It panics if dst
// is longer than buf.
func (q *Queue) EnqueueRead(buf *Buffer, dst []uint32, waitList ...*Event) *Event {
	if len(dst) > buf.Len() {
		panic(fmt.Sprintf("EnqueueRead: %d elements requested from buffer of %d", len(dst), buf.Len()))
	}
	ev := newEvent("read")
	go func() {
		if err := WaitAll(waitList...); err != nil {
			ev.complete(fmt.Errorf("read: dependency failed: %w", err))
			return
		}
		copy(dst, buf.data)
		ev.complete(nil)
	}()
	return ev
}

// EnqueueMarker returns an event that completes when the whole wait-list has.
func (q *Queue) EnqueueMarker(waitList ...*Event) *Event {
	ev := newEvent("marker")
	go func() {
		ev.complete(WaitAll(waitList...))
	}()
	return ev
}
