package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tenmb/voicematch/loadtest/client"
	"github.com/tenmb/voicematch/loadtest/stats"
)

// runMatch implements the matching flow load test. It creates pairs of
// simulated users who connect, enter the matching queue with a shared
// interest, and wait for the backend to pair them. This test measures
// matching throughput and time-to-match under concurrent load.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:3001/socket", "WebSocket backend URL")
	token := fs.String("token", "", "Bearer token shared by all simulated users")
	pairs := fs.Int("pairs", 500, "Number of user pairs to match")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting for match:found")
	interests := fs.String("interests", "loadtest", "Comma-separated interest tags shared by all users")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	fs.Parse(args)

	totalClients := *pairs * 2

	fmt.Printf("Match test: %d pairs (%d clients) to %s (ramp=%s, match-timeout=%s, interests=%q, concurrency=%d)\n",
		*pairs, totalClients, *url, *rampUp, *matchTimeout, *interests, *concurrency)

	// Parse interest tags. Every user shares the same set so the backend can
	// always pair them.
	var interestTags []string
	for _, tag := range strings.Split(*interests, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			interestTags = append(interestTags, tag)
		}
	}

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	// Slice to track all open connections for cleanup.
	var mu sync.Mutex
	clients := make([]*client.Client, 0, totalClients)

	// Track whether ramp-up was interrupted so we can skip the matching phase.
	interrupted := false

	// -----------------------------------------------------------------------
	// Phase 1 — Connect all users
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")

	interval := *rampUp / time.Duration(totalClients)
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Semaphore to bound concurrent connection attempts.
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	// Progress reporting: every 2 seconds during ramp-up.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, totalClients, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
	for launched < totalClients {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			launched = totalClients // Break the loop.
		case <-rampTicker.C:
			launched++
			userNum := launched
			wg.Add(1)
			sem <- struct{}{} // Acquire semaphore slot.

			go func() {
				defer wg.Done()
				defer func() { <-sem }() // Release semaphore slot.

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				deviceID := fmt.Sprintf("loadtest-%d", userNum)
				c, err := client.New(connCtx, *url, *token, deviceID)
				if err != nil {
					collector.AddError()
					return
				}

				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	rampElapsed := time.Since(rampStart)
	mu.Lock()
	connectedCount := len(clients)
	mu.Unlock()
	fmt.Printf("\nPhase 1 complete: %d/%d connections in %s (%d errors)\n",
		connectedCount, totalClients,
		rampElapsed.Round(time.Millisecond), collector.ErrorCount())

	if interrupted {
		fmt.Println("Interrupted — skipping matching phases.")
		cleanup(clients, &mu)
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 — Register handlers and send match:start from all clients
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Start matching ---")

	// Counters for tracking match progress.
	var matchedCount atomic.Int64 // Clients that received match:found
	var erroredCount atomic.Int64 // Clients that received match:error

	// WaitGroup for all client goroutines that handle the match flow.
	var matchWg sync.WaitGroup

	mu.Lock()
	activeClients := make([]*client.Client, len(clients))
	copy(activeClients, clients)
	mu.Unlock()

	fmt.Printf("Sending match:start from %d clients (interests=%v)...\n", len(activeClients), interestTags)

	matchStart := time.Now()

	for _, c := range activeClients {
		c := c // capture loop variable
		matchWg.Add(1)

		// Per-client channel to signal when match:found is received.
		matchDone := make(chan struct{})

		// Register the match:found handler. Leaving right away frees the
		// backend's voice session for the next measurement run.
		c.On(client.TypeMatchFound, func(raw json.RawMessage) {
			collector.AddMatchLatency(time.Since(matchStart))
			matchedCount.Add(1)

			var msg struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(raw, &msg); err == nil && msg.SessionID != "" {
				_ = c.Send(map[string]string{"type": client.TypeMatchLeave})
			}

			close(matchDone)
		})

		c.On(client.TypeMatchError, func(json.RawMessage) {
			erroredCount.Add(1)
			collector.AddError()
		})

		// Per-client goroutine to enforce the match timeout.
		go func() {
			defer matchWg.Done()

			timeoutTimer := time.NewTimer(*matchTimeout)
			defer timeoutTimer.Stop()

			select {
			case <-matchDone:
				// Matched.
			case <-timeoutTimer.C:
				collector.AddError()
			case <-ctx.Done():
			}
		}()

		if err := c.StartMatch(interestTags); err != nil {
			collector.AddError()
		}
	}

	// -----------------------------------------------------------------------
	// Phase 3 — Wait for matches with progress reporting
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 3: Waiting for matches ---")

	matchProgressStop := make(chan struct{})
	var matchProgressWg sync.WaitGroup
	matchProgressWg.Add(1)
	go func() {
		defer matchProgressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastMatched := int64(0)
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentMatched := matchedCount.Load()
				currentErrors := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				matchRate := float64(currentMatched-lastMatched) / dt
				// Each pair = 2 clients matched.
				pairsMatched := currentMatched / 2
				fmt.Printf("  [match] pairs: %d/%d  matched: %d  errors: %d  rate: %.1f match/s\n",
					pairsMatched, *pairs, currentMatched, currentErrors, matchRate)
				lastMatched = currentMatched
				lastTime = now
			case <-matchProgressStop:
				return
			}
		}
	}()

	// Wait for all client goroutines to complete (match or timeout).
	allDone := make(chan struct{})
	go func() {
		matchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		// All clients finished.
	case <-ctx.Done():
		fmt.Println("\nInterrupted during matching phase.")
	}

	close(matchProgressStop)
	matchProgressWg.Wait()

	matchElapsed := time.Since(matchStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	finalMatched := matchedCount.Load()
	successfulPairs := finalMatched / 2

	fmt.Printf("\n--- Match Results ---\n")
	fmt.Printf("Successful pairs:  %d / %d\n", successfulPairs, *pairs)
	fmt.Printf("Clients matched:   %d / %d\n", finalMatched, len(activeClients))
	fmt.Printf("Server errors:     %d\n", erroredCount.Load())
	fmt.Printf("Match duration:    %s\n", matchElapsed.Round(time.Millisecond))
	if matchElapsed.Seconds() > 0 {
		fmt.Printf("Match throughput:  %.1f pairs/s\n", float64(successfulPairs)/matchElapsed.Seconds())
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	cleanup(clients, &mu)
	collector.Report()
}

// cleanup closes all client connections.
func cleanup(clients []*client.Client, mu *sync.Mutex) {
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	total := len(clients)
	fmt.Printf("Closing %d connections...\n", total)
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")
}
