package device

import (
	"errors"
)

var (
	// ErrCompile is returned when program text cannot be built for a device.
	ErrCompile = errors.New("device: compile failed")
	// ErrDispatch is returned when a kernel launch is rejected or fails while running.
	ErrDispatch = errors.New("device: dispatch failed")
	// ErrInvalidArgument is returned for kernel arguments that do not match the entry point.
	ErrInvalidArgument = errors.New("device: invalid kernel argument")
)

// Backend compiles programs and allocates device memory.
// Work is submitted through a Queue obtained from NewQueue.
type Backend interface {
	Name() string

	// Compile builds program text with OpenCL-style build options
	// (e.g. "-DBLK_SIZE=256") and exposes its entry points as kernels.
	Compile(source, options string) (*Program, error)

	// KernelWorkGroupSize reports the largest work-group the kernel can be
	// dispatched with on this device.
	KernelWorkGroupSize(k *Kernel) int

	// NewBuffer allocates a zero-initialised array of n uint32 elements.
	NewBuffer(n int) *Buffer

	// NewQueue returns a queue for submitting work to this device.
	NewQueue() *Queue
}

// NDRange is a one-dimensional launch configuration. Global must be a
// multiple of Local.
type NDRange struct {
	Global int
	Local  int
}

// Groups returns the number of work-groups in the range.
func (r NDRange) Groups() int {
	if r.Local <= 0 {
		return 0
	}
	return r.Global / r.Local
}

// executor runs one kernel launch to completion.
type executor interface {
	execute(k *Kernel, r NDRange, args []any) error
	maxWorkGroupSize(k *Kernel) int
}
