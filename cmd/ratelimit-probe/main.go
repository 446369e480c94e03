// Command ratelimit-probe fires a burst of requests at a running studio API as
// one client and reports where the limiter starts answering 429.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type probeResult struct {
	Attempt    int
	Status     int
	RetryAfter string
	Body       retryBody
}

type retryBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type probeConfig struct {
	BaseURL  string
	Route    string
	Count    int
	ClientID string
	Interval time.Duration
}

var routes = map[string]struct {
	method string
	path   string
	body   string
}{
	"leads":      {method: http.MethodPost, path: "/api/leads", body: `{"name":"Rate Probe","email":"probe@example.com","message":"rate limit probe, please ignore","website":"probe"}`},
	"newsletter": {method: http.MethodPost, path: "/api/newsletter", body: `{"email":"probe@example.com","locale":"en"}`},
	"posts":      {method: http.MethodGet, path: "/api/posts?limit=1"},
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func runProbe(client *http.Client, cfg probeConfig) ([]probeResult, error) {
	route, ok := routes[cfg.Route]
	if !ok {
		return nil, fmt.Errorf("unknown route %q", cfg.Route)
	}

	results := make([]probeResult, 0, cfg.Count)
	for attempt := 1; attempt <= cfg.Count; attempt++ {
		var body io.Reader
		if route.body != "" {
			body = bytes.NewBufferString(route.body)
		}
		req, err := http.NewRequest(route.method, strings.TrimSuffix(cfg.BaseURL, "/")+route.path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", cfg.ClientID)

		resp, err := client.Do(req)
		if err != nil {
			return results, fmt.Errorf("attempt %d: %w", attempt, err)
		}

		result := probeResult{Attempt: attempt, Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		if resp.StatusCode == http.StatusTooManyRequests {
			_ = json.NewDecoder(resp.Body).Decode(&result.Body)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		results = append(results, result)

		if cfg.Interval > 0 && attempt < cfg.Count {
			time.Sleep(cfg.Interval)
		}
	}
	return results, nil
}

func summarize(cfg probeConfig, results []probeResult) string {
	var b strings.Builder
	allowed, denied := 0, 0
	firstDenied := 0
	for _, result := range results {
		if result.Status == http.StatusTooManyRequests {
			denied++
			if firstDenied == 0 {
				firstDenied = result.Attempt
			}
			continue
		}
		allowed++
	}

	b.WriteString(fmt.Sprintf("route=%s client=%s requests=%d allowed=%d denied=%d\n", cfg.Route, cfg.ClientID, len(results), allowed, denied))
	if firstDenied > 0 {
		denial := results[firstDenied-1]
		b.WriteString(fmt.Sprintf("first 429 at attempt %d retry-after=%ss body.retryAfter=%d\n", firstDenied, denial.RetryAfter, denial.Body.RetryAfter))
	}
	for _, result := range results {
		line := "- #" + strconv.Itoa(result.Attempt) + " " + strconv.Itoa(result.Status)
		if result.RetryAfter != "" {
			line += " retry-after=" + result.RetryAfter
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func main() {
	cfg := probeConfig{}
	flag.StringVar(&cfg.BaseURL, "url", envOr("STUDIO_API_URL", "http://localhost:4000"), "studio API base URL")
	flag.StringVar(&cfg.Route, "route", "posts", "route to probe: leads, newsletter or posts")
	flag.IntVar(&cfg.Count, "n", 70, "number of requests")
	flag.StringVar(&cfg.ClientID, "client", fmt.Sprintf("probe-%d", time.Now().Unix()), "X-Forwarded-For value to send")
	flag.DurationVar(&cfg.Interval, "interval", 0, "delay between requests")
	flag.Parse()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	results, err := runProbe(httpClient, cfg)
	fmt.Print(summarize(cfg, results))
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
}
