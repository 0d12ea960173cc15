package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tenmb/voicematch/loadtest/client"
	"github.com/tenmb/voicematch/loadtest/stats"
)

// runChurn implements the presence churn test. Users continuously connect,
// announce presence, linger for a short while and disconnect. This exercises
// the backend's online-count bookkeeping and connection setup path without
// ever entering the matching queue.
func runChurn(args []string) {
	fs := flag.NewFlagSet("churn", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:3001/socket", "WebSocket backend URL")
	token := fs.String("token", "", "Bearer token shared by all simulated users")
	workers := fs.Int("workers", 50, "Number of concurrent churn workers")
	linger := fs.Duration("linger", 2*time.Second, "How long each connection stays online")
	duration := fs.Duration("duration", time.Minute, "Total test duration")
	fs.Parse(args)

	fmt.Printf("Churn test: %d workers against %s (linger=%s, duration=%s)\n",
		*workers, *url, *linger, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	collector := stats.NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerNum := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			cycle := 0
			for ctx.Err() == nil {
				cycle++
				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				deviceID := fmt.Sprintf("churn-%d-%d", workerNum, cycle)
				c, err := client.New(connCtx, *url, *token, deviceID)
				connCancel()
				if err != nil {
					if ctx.Err() == nil {
						collector.AddError()
					}
					continue
				}
				collector.AddConnect(c.GetMetrics().ConnectLatency)

				select {
				case <-time.After(*linger):
				case <-ctx.Done():
				}
				c.Close()
			}
		}()
	}

	wg.Wait()
	collector.Report()
}
