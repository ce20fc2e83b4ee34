// Package engine owns one device, its scanner and compactor, and serialises
// host requests against them.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-scan/internal/cache"
	"github.com/23skdu/longbow-scan/internal/compact"
	"github.com/23skdu/longbow-scan/internal/device"
	"github.com/23skdu/longbow-scan/internal/scan"
)

// Config configures New.
type Config struct {
	Device device.Config
	// MaxBlockSize caps the scanner's probed block size; 0 means no cap.
	MaxBlockSize int
	// CacheEntries bounds the result cache; 0 disables it.
	CacheEntries int
}

// Engine is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	backend   device.Backend
	queue     *device.Queue
	scanner   *scan.Scanner
	compactor *compact.Compactor
	cache     cache.PrefixCache
}

// New creates an engine on a CPU device.
func New(cfg Config) (*Engine, error) {
	return NewWithBackend(device.NewCPUBackend(cfg.Device), cfg)
}

// NewWithBackend creates an engine on b. cfg.Device is ignored.
func NewWithBackend(b device.Backend, cfg Config) (*Engine, error) {
	s, err := scan.New(b, scan.WithMaxBlockSize(cfg.MaxBlockSize))
	if err != nil {
		return nil, fmt.Errorf("failed to build scanner: %w", err)
	}
	c, err := compact.New(b, s)
	if err != nil {
		return nil, fmt.Errorf("failed to build compactor: %w", err)
	}

	e := &Engine{
		backend:   b,
		queue:     b.NewQueue(),
		scanner:   s,
		compactor: c,
	}
	if cfg.CacheEntries > 0 {
		e.cache = cache.NewMapCache(cfg.CacheEntries)
	}

	log.Info().Str("backend", b.Name()).Int("block_size", s.BlockSize()).Int("cache_entries", cfg.CacheEntries).Msg("Engine ready")
	return e, nil
}

// BlockSize returns the scanner's block size.
func (e *Engine) BlockSize() int {
	return e.scanner.BlockSize()
}

// Backend returns the device the engine runs on.
func (e *Engine) Backend() device.Backend {
	return e.backend
}

// Scan returns the inclusive prefix sums of values.
//
// If ctx is cancelled while the device is busy, Scan returns at once; the
// device work still runs to completion before the next request starts.
func (e *Engine) Scan(ctx context.Context, values []uint32) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.cache != nil {
		if prefix, ok := e.cache.Get(values); ok {
			return prefix, nil
		}
	}

	start := time.Now()
	e.mu.Lock()

	n := len(values)
	in := e.backend.NewBuffer(n)
	out := e.backend.NewBuffer(n)
	finish := func() {
		in.Release()
		out.Release()
		e.mu.Unlock()
	}

	written := e.queue.EnqueueWrite(in, values)
	ev, err := e.scanner.InclusiveScan(e.queue, in, out, written)
	if err != nil {
		// The write may still be copying into in.
		_ = written.Wait()
		finish()
		requestFailures.WithLabelValues("scan").Inc()
		return nil, err
	}

	prefix := make([]uint32, n)
	done := e.queue.EnqueueRead(out, prefix, ev)
	select {
	case <-done.Done():
		finish()
	case <-ctx.Done():
		go func() {
			<-done.Done()
			finish()
		}()
		requestFailures.WithLabelValues("scan").Inc()
		return nil, ctx.Err()
	}
	if err := done.Err(); err != nil {
		requestFailures.WithLabelValues("scan").Inc()
		return nil, err
	}

	requestDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())
	requestElements.WithLabelValues("scan").Add(float64(n))
	if e.cache != nil {
		e.cache.Put(values, prefix)
	}
	return prefix, nil
}

// Compact returns the indices of the set flags. Every flag must be 0 or 1.
func (e *Engine) Compact(ctx context.Context, flags []uint32) (*compact.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.compactor.Compact(e.queue, flags)
	if err != nil {
		requestFailures.WithLabelValues("compact").Inc()
		return nil, err
	}
	requestDuration.WithLabelValues("compact").Observe(time.Since(start).Seconds())
	requestElements.WithLabelValues("compact").Add(float64(len(flags)))
	return res, nil
}

// Close releases the scanner's level buffers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scanner.Close()
}
