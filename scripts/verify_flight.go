//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/23skdu/longbow-scan/internal/client"
	"github.com/23skdu/longbow-scan/internal/scan"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to longbow-scan Flight Server")

	c, err := client.NewFlightClient(addr, client.NewCircuitBreaker(10, time.Second))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, n := range []int{1, 255, 256, 257, 65537, 1 << 20} {
		values := make([]uint32, n)
		for i := range values {
			values[i] = rng.Uint32()
		}

		// Retry while the server comes up.
		var prefix []uint32
		for attempt := 0; attempt < 10; attempt++ {
			prefix, err = c.Scan(context.Background(), values)
			if err == nil {
				break
			}
			log.Warn().Err(err).Msg("Scan failed, retrying...")
			time.Sleep(1 * time.Second)
		}
		if err != nil {
			log.Fatal().Err(err).Int("count", n).Msg("Scan failed after retries")
		}

		want := scan.Reference(values)
		for i := range want {
			if prefix[i] != want[i] {
				log.Fatal().Int("count", n).Int("index", i).Uint32("got", prefix[i]).Uint32("want", want[i]).Msg("Mismatch")
			}
		}
		log.Info().Int("count", n).Msg("Prefix sums valid")
	}

	fmt.Println("VERIFICATION PASSED")
}
