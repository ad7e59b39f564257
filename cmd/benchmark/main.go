package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	keyPool     int
	amountUnits int64
)

var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Key reused with a different body
	fail422       uint64 // Insufficient balance or ceiling
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "unique", "Workload type: unique | replay")
	flag.IntVar(&keyPool, "keys", 50, "Idempotency keys shared by all workers in the replay workload")
	flag.Int64Var(&amountUnits, "amount", 1, "Token units redeemed per request")
}

func main() {
	flag.Parse()
	if workload != "unique" && workload != "replay" {
		log.Fatalf("unknown workload %q", workload)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	runID := time.Now().UnixNano()
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, runID, i)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, runID int64, id int) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	body, _ := json.Marshal(map[string]any{"amount_units": amountUnits, "memo": "benchmark"})

	for n := 0; time.Since(start) < duration; n++ {
		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/redeem", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", nextKey(runID, id, n))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// nextKey returns a fresh key per request, or in the replay workload one of
// a small shared pool so concurrent workers race on the same key.
func nextKey(runID int64, worker, n int) string {
	if workload == "replay" {
		return fmt.Sprintf("bench-%d-%d", runID, rand.Intn(keyPool))
	}
	return fmt.Sprintf("bench-%d-%d-%d", runID, worker, n)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	var replayRate float64
	if total > 0 {
		replayRate = float64(s200) / float64(total) * 100
	}

	results := map[string]any{
		"workload":              workload,
		"duration_sec":          d.Seconds(),
		"total_requests":        total,
		"throughput_tps":        float64(total) / d.Seconds(),
		"success_created":       s201,
		"success_replay":        s200,
		"replay_rate_pct":       replayRate,
		"conflicts":             f409,
		"insufficient_or_limit": f422,
		"errors":                fErr,
		"units_redeemed":        int64(s201) * amountUnits,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
