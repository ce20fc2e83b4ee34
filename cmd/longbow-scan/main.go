package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-scan/internal/client"
	"github.com/23skdu/longbow-scan/internal/device"
	"github.com/23skdu/longbow-scan/internal/engine"
	"github.com/23skdu/longbow-scan/internal/scan"
)

var (
	numElements   = flag.Int("n", 1<<20, "Number of elements to generate")
	pattern       = flag.String("pattern", "random", "Input pattern (ones, random, flags, overflow)")
	seed          = flag.Int64("seed", 1, "Seed for generated input")
	inputPath     = flag.String("input", "", "Arrow IPC stream with a uint32 'value' column ('-' for stdin)")
	maxBlock      = flag.Int("max-block", 0, "Cap on the probed block size (0 = device limit)")
	maxWorkGroup  = flag.Int("max-workgroup", 0, "Device work-group size limit (0 = default)")
	localMem      = flag.Int("local-mem", 0, "Device workgroup memory in bytes (0 = default)")
	workers       = flag.Int("workers", 0, "Work-groups executed concurrently (0 = NumCPU)")
	iterations    = flag.Int("iterations", 1, "Number of timed scans of the input")
	verify        = flag.Bool("verify", false, "Check the result against a host scan")
	compactMode   = flag.Bool("compact", false, "Compact 0/1 input into the indices of set flags")
	validateSPIRV = flag.Bool("spirv", false, "Compile kernels to SPIR-V and reject invalid programs")
	cacheEntries  = flag.Int("cache", 0, "Server result cache entries (0 = disabled)")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	remoteAddr    = flag.String("remote", "", "Scan on a remote Flight server instead of locally (e.g. localhost:9090)")
	maxConcurrent = flag.Int64("max-concurrent", 1<<24, "Maximum number of elements in flight on the server")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	quiet         = flag.Bool("quiet", false, "Do not write the Arrow result stream to stdout")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	values, err := loadInput()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load input")
	}

	// Remote mode needs no local device.
	if *remoteAddr != "" {
		runRemote(values)
		return
	}

	eng, err := engine.New(engine.Config{
		Device: device.Config{
			MaxWorkGroupSize: *maxWorkGroup,
			LocalMemSize:     *localMem,
			Workers:          *workers,
			ValidateSPIRV:    *validateSPIRV,
		},
		MaxBlockSize: *maxBlock,
		CacheEntries: *cacheEntries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	defer eng.Close()

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		if *listenAddr != "" {
			go startServer(*listenAddr, eng, *maxConcurrent)
		}
		if *flightAddr != "" {
			StartFlightServer(*flightAddr, eng)
			return
		}
		select {}
	}

	if *compactMode {
		runCompact(eng, values)
		return
	}
	runLocal(eng, values)
}

func loadInput() ([]uint32, error) {
	if *inputPath == "" {
		return generate(*pattern, *numElements, *seed)
	}

	var r io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return readValues(r, memory.NewGoAllocator())
}

// readValues concatenates the value column of every batch in an IPC stream.
func readValues(r io.Reader, alloc memory.Allocator) ([]uint32, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(alloc))
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC reader: %w", err)
	}
	defer reader.Release()

	var values []uint32
	for reader.Next() {
		col, err := client.Column(reader.Record(), client.ValueColumn)
		if err != nil {
			return nil, err
		}
		values = append(values, col...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func runLocal(eng *engine.Engine, values []uint32) {
	ctx := context.Background()
	n := max(*iterations, 1)
	durations := make([]time.Duration, 0, n)

	var prefix []uint32
	for i := 0; i < n; i++ {
		start := time.Now()
		out, err := eng.Scan(ctx, values)
		if err != nil {
			log.Fatal().Err(err).Int("iteration", i).Msg("Scan failed")
		}
		durations = append(durations, time.Since(start))
		prefix = out
	}

	if *verify {
		if i, ok := firstMismatch(prefix, scan.Reference(values)); !ok {
			log.Fatal().Int("index", i).Msg("Result does not match host scan")
		}
		log.Info().Msg("Verified against host scan")
	}

	summary := summarize(durations)
	log.Info().
		Int("count", len(values)).
		Int("block_size", eng.BlockSize()).
		Int("iterations", len(durations)).
		Dur("mean", summary.Mean).
		Dur("p50", summary.P50).
		Dur("p99", summary.P99).
		Dur("stddev", summary.StdDev).
		Float64("elements_per_sec", summary.Throughput(len(values))).
		Msg("Scanned elements")

	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stderr, "%d elements, block size %d, %.0f elements/s\n", len(values), eng.BlockSize(), summary.Throughput(len(values)))

	if !*quiet {
		if err := writeResult(os.Stdout, values, prefix); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

func runCompact(eng *engine.Engine, flags []uint32) {
	start := time.Now()
	res, err := eng.Compact(context.Background(), flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Compaction failed")
	}
	log.Info().Int("flags", len(flags)).Int("selected", res.Count).Dur("elapsed", time.Since(start)).Msg("Compacted flags")

	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stderr, "%d of %d flags set\n", res.Count, len(flags))
}

func runRemote(values []uint32) {
	fc, err := client.NewFlightClient(*remoteAddr, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create flight client")
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	prefix, err := fc.Scan(ctx, values)
	if err != nil {
		log.Fatal().Err(err).Str("remote", *remoteAddr).Msg("Remote scan failed")
	}
	log.Info().Int("count", len(values)).Dur("elapsed", time.Since(start)).Str("remote", *remoteAddr).Msg("Scanned elements remotely")

	if *verify {
		if i, ok := firstMismatch(prefix, scan.Reference(values)); !ok {
			log.Fatal().Int("index", i).Msg("Remote result does not match host scan")
		}
		log.Info().Msg("Verified against host scan")
	}
	if !*quiet {
		if err := writeResult(os.Stdout, values, prefix); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

// firstMismatch returns the first index where got and want differ, and
// false; or -1 and true if they are equal.
func firstMismatch(got, want []uint32) (int, bool) {
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			return i, false
		}
	}
	if len(got) != len(want) {
		return len(want), false
	}
	return -1, true
}

func writeResult(w io.Writer, values, prefix []uint32) error {
	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildResult(values, prefix)
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("longbow-scan"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
