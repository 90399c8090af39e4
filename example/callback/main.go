package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/pkg/uanorth"
)

// Feeds a synthetic pump reading every second and prints every batch after
// it has been projected.
func main() {
	callback := func(batch []*uanorth.Reading) error {
		for _, r := range batch {
			fmt.Printf("%s asset=%s datapoints=%d\n",
				r.Timestamp.Time().Format(time.RFC3339Nano),
				r.Asset,
				len(r.Datapoints),
			)
		}
		return nil
	}

	rt, err := uanorth.Load("../../data/config.yaml", uanorth.WithSink(uanorth.NewCallbackSink("stdout", callback)))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutdown: %v", err)
			}
			return
		case now := <-ticker.C:
			rt.Send([]*uanorth.Reading{uanorth.NewReading("pump",
				uanorth.Timestamp{Sec: now.Unix()},
				uanorth.Datapoint{Name: "area", Value: uanorth.String("north")},
				uanorth.Datapoint{Name: "temp", Value: uanorth.Float(20 + float64(i%10)/2)},
				uanorth.Datapoint{Name: "motor", Value: uanorth.Dict{
					{Name: "speed", Value: uanorth.Integer(1200 + i)},
				}},
			)})
		}
	}
}
