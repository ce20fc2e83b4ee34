package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-scan/internal/client"
	"github.com/23skdu/longbow-scan/internal/compact"
	"github.com/23skdu/longbow-scan/internal/device"
)

var (
	elementsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_http_elements_total",
		Help: "The total number of elements received per route",
	}, []string{"route"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_scan_http_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// ScanEngine is the part of engine.Engine the servers use.
type ScanEngine interface {
	Scan(ctx context.Context, values []uint32) ([]uint32, error)
	Compact(ctx context.Context, flags []uint32) (*compact.Result, error)
	BlockSize() int
}

type compactResponse struct {
	Count int      `cbor:"count"`
	IDs   []uint32 `cbor:"ids"`
}

type Server struct {
	engine   ScanEngine
	alloc    memory.Allocator
	builder  *client.RecordBatchBuilder
	sem      *semaphore.Weighted
	capacity int64
}

func NewServer(engine ScanEngine, maxConcurrent int64) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		engine:   engine,
		alloc:    alloc,
		builder:  client.NewRecordBatchBuilder(alloc),
		sem:      semaphore.NewWeighted(maxConcurrent),
		capacity: maxConcurrent,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/scan/arrow", s.handleScanArrow)
	mux.HandleFunc("/compact", s.handleCompact)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, engine ScanEngine, maxConcurrent int64) {
	srv := NewServer(engine, maxConcurrent)

	log.Info().Str("addr", addr).Int("block_size", engine.BlockSize()).Msg("Starting longbow-scan Server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("longbow-scan-server")

// admit reserves n elements of capacity. The returned release must be called
// once the request is done.
func (s *Server) admit(ctx context.Context, w http.ResponseWriter, n int) (func(), bool) {
	weight := int64(n)
	if weight > s.capacity {
		http.Error(w, fmt.Sprintf("Request of %d elements exceeds server capacity of %d", n, s.capacity), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return nil, false
	}
	return func() { s.sem.Release(weight) }, true
}

// bodySlack covers encoding overhead on top of five bytes per element, the
// widest CBOR encoding of a uint32 and enough for an Arrow column with its
// validity bitmap.
const bodySlack = 1 << 16

// limitBody caps r.Body at what s.capacity elements can take on the wire.
// A declared length over the cap is rejected before anything is read.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) bool {
	limit := s.capacity*5 + bodySlack
	if r.ContentLength > limit {
		http.Error(w, fmt.Sprintf("Request body of %d bytes exceeds limit of %d", r.ContentLength, limit), http.StatusRequestEntityTooLarge)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return true
}

// decodeFailed reports a body that could not be read.
func decodeFailed(w http.ResponseWriter, err error, format string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, fmt.Sprintf("Request body exceeds limit of %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, fmt.Sprintf(format, err), http.StatusBadRequest)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleScan")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limitBody(w, r) {
		return
	}
	var values []uint32
	if err := cbor.NewDecoder(r.Body).Decode(&values); err != nil {
		span.RecordError(err)
		decodeFailed(w, err, "Bad Request (CBOR decode): %v")
		return
	}
	span.SetAttributes(attribute.Int("element_count", len(values)))

	release, ok := s.admit(ctx, w, len(values))
	if !ok {
		return
	}
	defer release()

	prefix, err := s.engine.Scan(ctx, values)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int("count", len(values)).Msg("Scan failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	elementsProcessed.WithLabelValues("scan").Add(float64(len(values)))

	if prefix == nil {
		prefix = []uint32{}
	}
	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(prefix); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleScanArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleScanArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("scan_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limitBody(w, r) {
		return
	}
	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		decodeFailed(w, err, "Failed to create IPC reader: %v")
		return
	}
	defer reader.Release()

	// Batches are scanned independently and the response is only written once
	// all of them succeeded.
	var results []arrow.RecordBatch
	defer func() {
		for _, rec := range results {
			rec.Release()
		}
	}()

	total := 0
	for reader.Next() {
		values, err := client.Column(reader.Record(), client.ValueColumn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		release, ok := s.admit(ctx, w, len(values))
		if !ok {
			return
		}
		prefix, err := s.engine.Scan(ctx, values)
		release()
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Int("count", len(values)).Msg("Scan failed")
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		results = append(results, s.builder.BuildResult(values, prefix))
		total += len(values)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
		decodeFailed(w, err, "Stream error: %v")
		return
	}

	span.SetAttributes(attribute.Int("element_count", total), attribute.Int("batch_count", len(results)))
	elementsProcessed.WithLabelValues("scan_arrow").Add(float64(total))

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	writer := ipc.NewWriter(w, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))
	for _, rec := range results {
		if err := writer.Write(rec); err != nil {
			log.Error().Err(err).Msg("Failed to write Arrow response")
			break
		}
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Arrow response")
	}
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleCompact")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("compact").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limitBody(w, r) {
		return
	}
	var flags []uint32
	if err := cbor.NewDecoder(r.Body).Decode(&flags); err != nil {
		span.RecordError(err)
		decodeFailed(w, err, "Bad Request (CBOR decode): %v")
		return
	}
	span.SetAttributes(attribute.Int("element_count", len(flags)))

	release, ok := s.admit(ctx, w, len(flags))
	if !ok {
		return
	}
	defer release()

	res, err := s.engine.Compact(ctx, flags)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	elementsProcessed.WithLabelValues("compact").Add(float64(len(flags)))
	span.SetAttributes(attribute.Int("selected_count", res.Count))

	ids := res.IDs
	if ids == nil {
		ids = []uint32{}
	}
	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(compactResponse{Count: res.Count, IDs: ids}); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
