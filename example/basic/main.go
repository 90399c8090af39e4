package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	uanorth "github.com/fledge-iot/fledge-north-opcua"
)

func main() {
	write := func(name, value string, dest uanorth.Destination, arg string) bool {
		log.Printf("control %s=%s -> %s %s", name, value, dest, arg)
		return true
	}
	rt, err := uanorth.Load("../../data/config.yaml", uanorth.WithControlWriter(write))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime exited: %v", err)
	}
}
