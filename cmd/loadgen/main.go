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

// Config holds the load generator settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail422       uint64 // Rejected (insufficient balance etc.)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "mixed", "Workload type: mixed | hotspot | settle")
	flag.IntVar(&accounts, "accounts", 50, "Accounts to create for the run")
}

func main() {
	flag.Parse()
	log.Printf("Starting load: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	client := &http.Client{Timeout: 5 * time.Second}
	ids, err := createAccounts(client, accounts)
	if err != nil {
		log.Fatalf("Account setup failed: %v", err)
	}
	sessionID, err := createSession(client, ids[0], ids[1:])
	if err != nil {
		log.Fatalf("Session setup failed: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, ids, sessionID)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, ids []string, sessionID string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var resp *http.Response
		var err error

		switch {
		case workload == "settle" || (workload == "mixed" && rand.Float32() < 0.05):
			// Hammer the same session: every call past the first must replay.
			resp, err = post(client, "/api/v1/sessions/"+sessionID+"/settle", nil)
		default:
			account := ids[rand.Intn(len(ids))]
			if workload == "hotspot" && rand.Float32() < 0.90 {
				account = ids[0]
			}
			amount := int64(rand.Intn(50) + 1)
			txType := "earn"
			if rand.Float32() < 0.4 {
				amount = -amount
				txType = "spend"
			}
			resp, err = post(client, "/api/v1/transactions", map[string]interface{}{
				"account_id": account,
				"amount":     amount,
				"type":       txType,
				"reason":     "load test",
			})
		}

		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func createAccounts(client *http.Client, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp, err := post(client, "/api/v1/accounts", nil)
		if err != nil {
			return nil, err
		}
		var acc struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()
		ids = append(ids, acc.ID)

		// Give every account something to spend.
		resp, err = post(client, "/api/v1/transactions", map[string]interface{}{
			"account_id": acc.ID,
			"amount":     int64(1000),
			"type":       "earn",
			"reason":     "load test grant",
		})
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
	}
	return ids, nil
}

func createSession(client *http.Client, hostID string, viewers []string) (string, error) {
	resp, err := post(client, "/api/v1/sessions", map[string]interface{}{"host_id": hostID})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var sess struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", err
	}
	for _, v := range viewers {
		r, err := post(client, "/api/v1/sessions/"+sess.ID+"/join", map[string]interface{}{"account_id": v})
		if err != nil {
			return "", err
		}
		r.Body.Close()
	}
	return sess.ID, nil
}

func post(client *http.Client, path string, payload map[string]interface{}) (*http.Response, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest("POST", targetURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  s200,
		"rejected":        f422,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
