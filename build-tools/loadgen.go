//go:build ignore

// Run: go run ./build-tools/loadgen.go -url nats://localhost:4222 -subject swaps.events -rps 1000 -duration 60s -keys 500

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

type SwapEvent struct {
	AssetKey    string  `json:"asset_key"`
	QuoteAmount float64 `json:"quote_amount"`
	AssetAmount float64 `json:"asset_amount"`
	Timestamp   int64   `json:"timestamp"`
	Side        string  `json:"side"`
	Actor       string  `json:"actor"`
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func main() {
	var (
		url      = flag.String("url", "nats://localhost:4222", "NATS server url")
		subject  = flag.String("subject", "swaps.events", "subject to publish to")
		rps      = flag.Int("rps", 1000, "events per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		keys     = flag.Int("keys", 500, "number of distinct asset keys")
	)
	flag.Parse()

	if *keys <= 0 {
		fmt.Println("keys must be positive")
		os.Exit(1)
	}

	// fixed universe so a running service sees repeated activity per key
	mints := make([]string, *keys)
	for i := range mints {
		mints[i] = randBase58(44)
	}

	nc, err := nats.Connect(*url, nats.Name("pricehub-loadgen"), nats.Timeout(5*time.Second))
	if err != nil {
		fmt.Printf("nats connect error: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	fmt.Printf("loadgen → url=%s subject=%s rps=%d duration=%s keys=%d\n", *url, *subject, *rps, duration.String(), *keys)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	end := start.Add(*duration)

	// steady pace with a little drift
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0 // 10 ticket in sec
	accum := 0.0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case now := <-tick.C:
			if now.After(end) {
				break loop
			}

			accum += perTick
			batch := int(math.Floor(accum))
			if batch <= 0 {
				continue
			}
			accum -= float64(batch)

			for i := 0; i < batch; i++ {
				ev := randomEvent(mints)
				val, _ := json.Marshal(ev)
				if err = nc.Publish(*subject, val); err != nil {
					fmt.Printf("publish error: %v\n", err)
				}
			}
		}
	}

	// drain and close
	fmt.Println("flushing…")
	_ = nc.Flush()
	fmt.Println("done")
}

func randomEvent(mints []string) *SwapEvent {
	side := "buy"
	if mrand.Intn(2) == 0 {
		side = "sell"
	}

	// SOL legs between 0.01 and ~50, token legs sized for sub-dollar prices
	quoteAmount := 0.01 + mrand.Float64()*50
	assetAmount := quoteAmount * (100 + mrand.Float64()*100_000)

	return &SwapEvent{
		AssetKey:    mints[mrand.Intn(len(mints))],
		QuoteAmount: quoteAmount,
		AssetAmount: assetAmount,
		Timestamp:   time.Now().Unix(),
		Side:        side,
		Actor:       randBase58(44),
	}
}

func randBase58(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = base58Alphabet[int(b[i])%len(base58Alphabet)]
	}
	return string(b)
}
