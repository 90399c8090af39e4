package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	uanorth "github.com/fledge-iot/fledge-north-opcua"
)

func main() {
	sink, batches, closeBatches := uanorth.NewChannelSink("fanout", 32)
	defer closeBatches()

	rt, err := uanorth.Load("../../data/config.yaml", uanorth.WithSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fanoutWorker("projected", batches)

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []*uanorth.Reading) {
	for batch := range batches {
		assets := make(map[string]int)
		for _, r := range batch {
			assets[r.Asset]++
		}
		fmt.Printf("[%s] %d readings across %d assets at %s\n", name, len(batch), len(assets), time.Now().Format(time.RFC3339))
	}
}
