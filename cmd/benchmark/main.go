// Benchmark tool for load-testing Kestrel with synthetic interaction payloads.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -n 10000 -bots 0.2
//
// This tool:
//  1. Generates synthetic payloads: human-like sessions and bot-like sessions
//  2. Sends each payload to POST /verify
//  3. Treats decision != allow as a positive bot call
//  4. Reports a confusion matrix, precision/recall and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticSession is one generated payload plus its ground-truth label.
type SyntheticSession struct {
	Payload map[string]any
	IsBot   bool
}

// VerifyResponse mirrors the fields this tool inspects.
type VerifyResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Decision     string   `json:"decision"`
	Score        float64  `json:"score"`
	Reasons      []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // bot flagged (review/deny)
	FalsePositives int64 // human flagged
	TrueNegatives  int64 // human allowed
	FalseNegatives int64 // bot allowed

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("n", 10000, "Number of payloads to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	botRate := flag.Float64("bots", 0.2, "Fraction of bot-like sessions (0.0-1.0)")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible payloads")
	verbose := flag.Bool("verbose", false, "Print each session result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Synthetic Session Load           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Sessions:    %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Bot Rate:    %.2f\n", *botRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	sessions := make([]SyntheticSession, *count)
	botCount := 0
	for i := range sessions {
		isBot := rng.Float64() < *botRate
		if isBot {
			botCount++
		}
		sessions[i] = SyntheticSession{
			Payload: generatePayload(rng, i, isBot),
			IsBot:   isBot,
		}
	}
	fmt.Printf("✓ Generated %d sessions (%d bot-like)\n", len(sessions), botCount)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(sessions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generatePayload synthesizes a verify payload. Human sessions get rich
// fingerprints and plausible event activity; bot sessions get sparse data,
// a crawler user agent and near-instant timing.
func generatePayload(rng *rand.Rand, i int, isBot bool) map[string]any {
	now := time.Now().UnixMilli()
	sessionID := fmt.Sprintf("bench-%06d", i)

	if isBot {
		return map[string]any{
			"sessionId": sessionID,
			"timestamp": now,
			"action":    "login",
			"fingerprint": map[string]any{
				"userAgent": "Mozilla/5.0 (compatible; DataBot/2.1; +http://example.com/bot)",
				"language":  "en-US",
				"platform":  "Linux x86_64",
				"timestamp": now,
			},
			"behavior": map[string]any{
				"startTime":   now - int64(rng.Intn(3000)),
				"mouseEvents": []map[string]any{},
				"clickEvents": []map[string]any{{"x": 100, "y": 100, "timestamp": now}},
			},
		}
	}

	startTime := now - int64(60000+rng.Intn(120000))
	mouseEvents := make([]map[string]any, 30+rng.Intn(40))
	x, y := 200.0, 200.0
	for j := range mouseEvents {
		x += float64(rng.Intn(60) - 30)
		y += float64(rng.Intn(40) - 20)
		mouseEvents[j] = map[string]any{"x": x, "y": y, "timestamp": startTime + int64(j*800)}
	}

	return map[string]any{
		"sessionId": sessionID,
		"timestamp": now,
		"action":    "checkout",
		"fingerprint": map[string]any{
			"userAgent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
			"language":          "en-US",
			"platform":          "MacIntel",
			"screenResolution":  "2560x1440",
			"timezone":          "America/New_York",
			"canvasFingerprint": randomHex(rng, 140),
			"webglFingerprint":  "ANGLE (Apple, Apple M2, OpenGL 4.1)",
			"audioFingerprint":  fmt.Sprintf("%.8f", 124.04+rng.Float64()),
			"fonts":             []string{"Arial", "Helvetica", "Times", "Courier", "Verdana", "Georgia", "Menlo"},
			"timestamp":         now,
		},
		"behavior": map[string]any{
			"startTime":      startTime,
			"mouseEvents":    mouseEvents,
			"keyboardEvents": makeEvents(rng, startTime, 15+rng.Intn(30)),
			"scrollEvents":   makeEvents(rng, startTime, 5+rng.Intn(10)),
			"clickEvents":    makeEvents(rng, startTime, 3+rng.Intn(6)),
			"focusEvents":    makeEvents(rng, startTime, 2+rng.Intn(4)),
		},
		"facial": map[string]any{
			"imageData": "data:image/jpeg;base64," + randomHex(rng, 64),
			"timestamp": now,
		},
	}
}

func makeEvents(rng *rand.Rand, start int64, n int) []map[string]any {
	events := make([]map[string]any, n)
	for i := range events {
		events[i] = map[string]any{"timestamp": start + int64(rng.Intn(60000))}
	}
	return events
}

func randomHex(rng *rand.Rand, n int) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[rng.Intn(len(hexDigits))]
	}
	return string(b)
}

func runBenchmark(sessions []SyntheticSession, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan SyntheticSession, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for session := range work {
				start := time.Now()
				result, err := verifySession(client, baseURL, session)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", session.Payload["sessionId"], err)
					}
					continue
				}

				predicted := result.Decision != "allow"
				actual := session.IsBot

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %s | Bot: %-5v | Decision: %-6s | Score: %.2f\n",
						status,
						session.Payload["sessionId"],
						session.IsBot,
						result.Decision,
						result.Score,
					)
				}
			}
		}()
	}

	for _, session := range sessions {
		work <- session
	}
	close(work)

	wg.Wait()

	return metrics
}

func verifySession(client *http.Client, baseURL string, session SyntheticSession) (*VerifyResponse, error) {
	body, err := json.Marshal(session.Payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Allowed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual Bot │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("        Human │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged sessions, how many were bots)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of bots, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}
