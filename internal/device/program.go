package device

import (
	"fmt"
	"sort"
	"sync"
)

// ArgKind describes one positional kernel argument.
type ArgKind int

const (
	// ArgBuffer is a required *Buffer.
	ArgBuffer ArgKind = iota
	// ArgOptionalBuffer is a *Buffer that may be nil (an unbound slot).
	ArgOptionalBuffer
	// ArgUint is a uint32 scalar.
	ArgUint
)

func (k ArgKind) String() string {
	switch k {
	case ArgBuffer:
		return "buffer"
	case ArgOptionalBuffer:
		return "optional buffer"
	case ArgUint:
		return "uint32"
	default:
		return "unknown"
	}
}

// KernelFunc is the CPU lowering of an entry point. It runs once per lane.
type KernelFunc func(wi *WorkItem, args []any)

// KernelSpec registers the CPU lowering of a program entry point.
type KernelSpec struct {
	Func KernelFunc
	Args []ArgKind
	// Locals names the var<workgroup> declarations the entry point uses.
	Locals []string
	// MaxWorkGroupSize caps the work-group size below the device limit; 0 means no cap.
	MaxWorkGroupSize int
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]KernelSpec)
)

// RegisterKernel makes a CPU lowering available under an entry point name.
// Programs that declare an entry point with this name bind to it at compile
// time. It panics if spec.Func is nil or the name is already registered.
func RegisterKernel(name string, spec KernelSpec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if spec.Func == nil {
		panic("device: RegisterKernel func is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("device: RegisterKernel called twice for " + name)
	}
	registry[name] = spec
}

func lookupKernel(name string) (KernelSpec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	spec, ok := registry[name]
	return spec, ok
}

// Kernels lists the registered entry point names.
func Kernels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Program is a compiled program.
type Program struct {
	source  string
	options string
	consts  map[string]uint64
	kernels map[string]*Kernel
	order   []string
	spirv   []uint32
}

// Source returns the preprocessed program text.
func (p *Program) Source() string {
	return p.source
}

// Options returns the build options the program was compiled with.
func (p *Program) Options() string {
	return p.options
}

// SPIRV returns the SPIR-V binary, or nil if the backend did not produce one.
func (p *Program) SPIRV() []uint32 {
	return p.spirv
}

// EntryPoints lists the program's kernels in source order.
func (p *Program) EntryPoints() []string {
	return append([]string(nil), p.order...)
}

// Kernel returns the kernel for an entry point.
func (p *Program) Kernel(name string) (*Kernel, error) {
	k, ok := p.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: no entry point %q in program", ErrCompile, name)
	}
	return k, nil
}

// localVar is a workgroup allocation bound to a kernel.
type localVar struct {
	name  string
	words int
}

// Kernel is one entry point of a Program.
type Kernel struct {
	name          string
	program       *Program
	spec          KernelSpec
	workgroupSize int
	locals        []localVar
	localBytes    int
}

// Name returns the entry point name.
func (k *Kernel) Name() string {
	return k.name
}

// WorkgroupSize returns the size declared with @workgroup_size, 0 if none.
func (k *Kernel) WorkgroupSize() int {
	return k.workgroupSize
}

// LocalMemSize returns the workgroup memory footprint in bytes.
func (k *Kernel) LocalMemSize() int {
	return k.localBytes
}

// Const returns a compile-time constant of the kernel's program.
func (k *Kernel) Const(name string) (uint64, bool) {
	v, ok := k.program.consts[name]
	return v, ok
}

// checkArgs validates launch arguments against the registered signature.
func (k *Kernel) checkArgs(args []any) error {
	if len(args) != len(k.spec.Args) {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidArgument, k.name, len(k.spec.Args), len(args))
	}
	for i, kind := range k.spec.Args {
		a := args[i]
		switch kind {
		case ArgBuffer:
			b, ok := a.(*Buffer)
			if !ok || b == nil {
				return fmt.Errorf("%w: %s argument %d must be a %s", ErrInvalidArgument, k.name, i, kind)
			}
		case ArgOptionalBuffer:
			if a == nil {
				continue
			}
			if _, ok := a.(*Buffer); !ok {
				return fmt.Errorf("%w: %s argument %d must be a %s", ErrInvalidArgument, k.name, i, kind)
			}
		case ArgUint:
			if _, ok := a.(uint32); !ok {
				return fmt.Errorf("%w: %s argument %d must be a %s, got %T", ErrInvalidArgument, k.name, i, kind, a)
			}
		}
	}
	return nil
}
