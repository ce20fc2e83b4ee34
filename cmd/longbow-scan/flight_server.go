package main

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-scan/internal/client"
)

// ScanFlightServer answers DoExchange with the prefix sums of each batch.
type ScanFlightServer struct {
	flight.BaseFlightServer
	engine  ScanEngine
	alloc   memory.Allocator
	builder *client.RecordBatchBuilder
}

func NewScanFlightServer(engine ScanEngine) *ScanFlightServer {
	alloc := memory.NewGoAllocator()
	return &ScanFlightServer{
		engine:  engine,
		alloc:   alloc,
		builder: client.NewRecordBatchBuilder(alloc),
	}
}

func (s *ScanFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoExchange")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Cmd) > 0 && string(desc.Cmd) != client.ScanCommand {
		return status.Errorf(codes.InvalidArgument, "unknown command %q", desc.Cmd)
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))
	defer func() { _ = writer.Close() }()

	batches, rows := 0, 0
	for reader.Next() {
		values, err := client.Column(reader.Record(), client.ValueColumn)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		prefix, err := s.engine.Scan(ctx, values)
		if err != nil {
			span.RecordError(err)
			return status.Error(codes.Internal, err.Error())
		}

		out := s.builder.BuildResult(values, prefix)
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
		batches++
		rows += len(values)
	}
	if err := reader.Err(); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("batch_count", batches), attribute.Int("element_count", rows))
	elementsProcessed.WithLabelValues("flight").Add(float64(rows))
	log.Debug().Int("batches", batches).Int("rows", rows).Msg("DoExchange complete")
	return nil
}

func StartFlightServer(addr string, engine ScanEngine) {
	// Create the generic Flight Server which manages the GRPC lifecycle
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewScanFlightServer(engine))

	// Init handles the listener creation internally
	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting longbow-scan Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
