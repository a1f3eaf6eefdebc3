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

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	benchKey    string
)

// Metrics
var (
	totalIssues uint64
	issued      uint64
	accepted    uint64
	conflicts   uint64 // limit/quantity rejections
	failOther   uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&benchKey, "benchkey", "bench", "Key of the seeded bench entities")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	clientKey := fmt.Sprintf("bench-worker-%d", id)

	for time.Since(start) < duration {
		target := pickTarget()

		issueBody := map[string]interface{}{
			"clientkey": clientKey,
			"target":    target,
			"key":       benchKey,
			"name":      "benchmark transfer",
			"provisions": []map[string]interface{}{
				{"entity": "system", "resource": "cpu", "quantity": 1},
			},
		}
		atomic.AddUint64(&totalIssues, 1)

		status, result := post(client, "issue_commission", issueBody)
		switch {
		case status == 200:
			atomic.AddUint64(&issued, 1)
		case status == 409:
			atomic.AddUint64(&conflicts, 1)
			continue
		default:
			atomic.AddUint64(&failOther, 1)
			continue
		}

		var issue struct {
			Result struct {
				Serial int64 `json:"serial"`
			} `json:"result"`
		}
		if err := json.Unmarshal(result, &issue); err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		acceptBody := map[string]interface{}{
			"clientkey": clientKey,
			"serials":   []int64{issue.Result.Serial},
			"reason":    "benchmark",
		}
		if status, _ := post(client, "accept_commission", acceptBody); status == 200 {
			atomic.AddUint64(&accepted, 1)
		} else {
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func post(client *http.Client, call string, payload map[string]interface{}) (int, []byte) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/"+call, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func pickTarget() string {
	// Assumes 1000 bench entities seeded (bench-1 .. bench-1000)
	totalEntities := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to bench-1 & bench-2
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return "bench-1"
			}
			return "bench-2"
		}
	}
	return fmt.Sprintf("bench-%d", rand.Intn(totalEntities)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalIssues)
	ok := atomic.LoadUint64(&issued)
	acc := atomic.LoadUint64(&accepted)
	conf := atomic.LoadUint64(&conflicts)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	conflictRate := float64(conf) / float64(total) * 100

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_issues":      total,
		"throughput_tps":    tps,
		"issued":            ok,
		"accepted":          acc,
		"conflicts":         conf,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
