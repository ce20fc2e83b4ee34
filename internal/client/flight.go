package client

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ScanCommand is the descriptor command of a scan exchange.
const ScanCommand = "scan"

// MaxBatchRows bounds each batch sent to the server, keeping messages under
// gRPC's default 4 MiB limit.
const MaxBatchRows = 1 << 18

// FlightClient runs scans on a remote longbow-scan server via Apache Flight.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
	alloc   memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
// A nil breaker gets a default of 5 failures and a 10 second timeout.
func NewFlightClient(addr string, breaker *CircuitBreaker) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 10*time.Second)
	}

	alloc := memory.NewGoAllocator()
	return &FlightClient{
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: breaker,
		builder: NewRecordBatchBuilder(alloc),
		alloc:   alloc,
	}, nil
}

// Breaker returns the client's circuit breaker.
func (c *FlightClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// Scan sends values in one DoExchange and returns their inclusive prefix sums.
// It fails fast with ErrCircuitOpen while the breaker is open.
func (c *FlightClient) Scan(ctx context.Context, values []uint32) ([]uint32, error) {
	if !c.breaker.Allow() {
		remoteScans.WithLabelValues("rejected").Inc()
		return nil, ErrCircuitOpen
	}

	prefix, err := c.exchange(ctx, values)
	if err != nil {
		c.breaker.Failure()
		remoteScans.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Int("values", len(values)).Stringer("breaker", c.breaker.State()).Msg("Remote scan failed")
		return nil, err
	}
	c.breaker.Success()
	remoteScans.WithLabelValues("ok").Inc()
	return prefix, nil
}

func (c *FlightClient) exchange(ctx context.Context, values []uint32) ([]uint32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	// Responses are read while requests are still being sent so neither side
	// stalls on flow control.
	var g errgroup.Group
	g.Go(func() error {
		return c.send(stream, values)
	})

	prefix, err := c.receive(stream, len(values))
	if err != nil {
		cancel()
		_ = g.Wait()
		return nil, err
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prefix, nil
}

func (c *FlightClient) send(stream flight.FlightService_DoExchangeClient, values []uint32) error {
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(ValueSchema), ipc.WithAllocator(c.alloc))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(ScanCommand),
	})

	for off := 0; off == 0 || off < len(values); off += MaxBatchRows {
		rec := c.builder.BuildValues(values[off:min(off+MaxBatchRows, len(values))])
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("send values: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	return nil
}

// receive stitches the per-batch sums: batch k is shifted by the total of
// batches 0..k-1.
func (c *FlightClient) receive(stream flight.FlightService_DoExchangeClient, n int) ([]uint32, error) {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer reader.Release()

	prefix := make([]uint32, 0, n)
	var carry uint32
	for reader.Next() {
		col, err := Column(reader.Record(), PrefixColumn)
		if err != nil {
			return nil, err
		}
		for i := range col {
			col[i] += carry
		}
		if len(col) > 0 {
			carry = col[len(col)-1]
		}
		prefix = append(prefix, col...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if len(prefix) != n {
		return nil, fmt.Errorf("server returned %d prefix sums for %d values", len(prefix), n)
	}
	return prefix, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
