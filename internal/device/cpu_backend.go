package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-scan/internal/shader"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ executor = (*CPUBackend)(nil)

// Config describes the limits of the simulated device.
type Config struct {
	// MaxWorkGroupSize is the device-wide limit on lanes per work-group.
	MaxWorkGroupSize int
	// LocalMemSize is the shared memory available to one work-group, in bytes.
	LocalMemSize int
	// Workers bounds how many work-groups execute at once.
	Workers int
	// ValidateSPIRV compiles every program to SPIR-V and rejects programs
	// that fail to compile.
	ValidateSPIRV bool
}

// DefaultConfig mirrors a typical discrete GPU: 256 lanes, 32 KiB of shared
// memory per work-group.
func DefaultConfig() Config {
	return Config{
		MaxWorkGroupSize: 256,
		LocalMemSize:     32 * 1024,
		Workers:          runtime.NumCPU(),
	}
}

// CPUBackend runs kernels on goroutines: one goroutine per lane, with at most
// Config.Workers work-groups in flight.
type CPUBackend struct {
	cfg Config
}

func NewCPUBackend(cfg Config) *CPUBackend {
	def := DefaultConfig()
	if cfg.MaxWorkGroupSize <= 0 {
		cfg.MaxWorkGroupSize = def.MaxWorkGroupSize
	}
	if cfg.LocalMemSize <= 0 {
		cfg.LocalMemSize = def.LocalMemSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &CPUBackend{cfg: cfg}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

// Config returns the effective device limits.
func (b *CPUBackend) Config() Config {
	return b.cfg
}

func (b *CPUBackend) Compile(source, options string) (*Program, error) {
	compilesTotal.Inc()

	text, err := shader.Preprocess(source, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	mod, err := shader.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if len(mod.EntryPoints) == 0 {
		return nil, fmt.Errorf("%w: program has no @compute entry points", ErrCompile)
	}

	p := &Program{
		source:  text,
		options: options,
		consts:  mod.Consts,
		kernels: make(map[string]*Kernel, len(mod.EntryPoints)),
	}

	if b.cfg.ValidateSPIRV {
		words, err := shader.CompileSPIRV(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompile, err)
		}
		p.spirv = words
	}

	for _, ep := range mod.EntryPoints {
		spec, ok := lookupKernel(ep.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no CPU lowering registered for entry point %q", ErrCompile, ep.Name)
		}
		k := &Kernel{
			name:          ep.Name,
			program:       p,
			spec:          spec,
			workgroupSize: ep.WorkgroupSize,
		}
		for _, name := range spec.Locals {
			v, ok := mod.Var(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s uses undeclared workgroup variable %q", ErrCompile, ep.Name, name)
			}
			k.locals = append(k.locals, localVar{name: v.Name, words: v.Words})
			k.localBytes += v.Words * shader.WordSize
		}
		if k.localBytes > b.cfg.LocalMemSize {
			return nil, fmt.Errorf("%w: %s needs %d bytes of workgroup memory, device has %d",
				ErrCompile, ep.Name, k.localBytes, b.cfg.LocalMemSize)
		}
		if ep.WorkgroupSize > b.cfg.MaxWorkGroupSize {
			return nil, fmt.Errorf("%w: %s declares workgroup size %d, device limit is %d",
				ErrCompile, ep.Name, ep.WorkgroupSize, b.cfg.MaxWorkGroupSize)
		}
		p.kernels[ep.Name] = k
		p.order = append(p.order, ep.Name)
	}

	log.Trace().Strs("entry_points", p.order).Str("options", options).Msg("Compiled program")
	return p, nil
}

func (b *CPUBackend) KernelWorkGroupSize(k *Kernel) int {
	return b.maxWorkGroupSize(k)
}

func (b *CPUBackend) maxWorkGroupSize(k *Kernel) int {
	n := b.cfg.MaxWorkGroupSize
	if k.spec.MaxWorkGroupSize > 0 && k.spec.MaxWorkGroupSize < n {
		n = k.spec.MaxWorkGroupSize
	}
	return n
}

func (b *CPUBackend) NewBuffer(n int) *Buffer {
	return newBuffer(n)
}

func (b *CPUBackend) NewQueue() *Queue {
	return &Queue{exec: b}
}

// execute runs every work-group of the launch and returns the first failure.
func (b *CPUBackend) execute(k *Kernel, r NDRange, args []any) error {
	start := time.Now()
	defer func() {
		dispatchDuration.WithLabelValues(k.name).Observe(time.Since(start).Seconds())
	}()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(b.cfg.Workers)

	groups := r.Groups()
	for gid := 0; gid < groups; gid++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			return b.runGroup(k, r, gid, args)
		})
	}
	return g.Wait()
}

// runGroup runs the lanes of one work-group concurrently.
func (b *CPUBackend) runGroup(k *Kernel, r NDRange, gid int, args []any) error {
	wg := &workGroup{
		kernel:  k,
		local:   make(map[string][]uint32, len(k.locals)),
		barrier: newBarrier(r.Local),
	}
	for _, v := range k.locals {
		wg.local[v.name] = make([]uint32, v.words)
	}

	var (
		mu       sync.Mutex
		firstErr error
		lanes    sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil || (errors.Is(firstErr, errBarrierBroken) && !errors.Is(err, errBarrierBroken)) {
			firstErr = err
		}
	}

	groups := r.Groups()
	lanes.Add(r.Local)
	for lid := 0; lid < r.Local; lid++ {
		wi := &WorkItem{
			GlobalID:   gid*r.Local + lid,
			LocalID:    lid,
			GroupID:    gid,
			LocalSize:  r.Local,
			GlobalSize: r.Global,
			NumGroups:  groups,
			group:      wg,
		}
		go func() {
			defer lanes.Done()
			defer func() {
				if rec := recover(); rec != nil {
					if err, ok := rec.(error); ok {
						record(fmt.Errorf("%s lane %d: %w", k.name, wi.GlobalID, err))
					} else {
						record(fmt.Errorf("%s lane %d: %v", k.name, wi.GlobalID, rec))
					}
					wg.barrier.abort()
				}
				wg.barrier.leave()
			}()
			k.spec.Func(wi, args)
		}()
	}
	lanes.Wait()
	return firstErr
}
