package main

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-scan/internal/client"
	"github.com/23skdu/longbow-scan/internal/device"
	"github.com/23skdu/longbow-scan/internal/scan"
)

func startTestFlightServer(t *testing.T, engine ScanEngine) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewScanFlightServer(engine))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightServer_DoExchange(t *testing.T) {
	addr := startTestFlightServer(t, newTestEngine(t))

	fc, err := client.NewFlightClient(addr, nil)
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, n := range []int{1, 8, 9, 500} {
		in, err := generate("overflow", n, int64(n))
		require.NoError(t, err)
		prefix, err := fc.Scan(ctx, in)
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, scan.Reference(in), prefix, "n=%d", n)
	}
}

func TestFlightServer_EngineFailure(t *testing.T) {
	me := &mockEngine{}
	me.On("Scan", mock.Anything, mock.Anything).Return(nil, device.ErrDispatch)
	addr := startTestFlightServer(t, me)

	fc, err := client.NewFlightClient(addr, client.NewCircuitBreaker(1, time.Minute))
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = fc.Scan(ctx, []uint32{1, 2})
	require.Error(t, err)
	assert.Equal(t, client.StateOpen, fc.Breaker().State())

	_, err = fc.Scan(ctx, []uint32{1, 2})
	assert.ErrorIs(t, err, client.ErrCircuitOpen)
}
