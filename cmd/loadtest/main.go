// Command loadtest drives the search API with a mix of queries and
// tie-breakers and reports throughput, latency percentiles, cache hit rate
// and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8080] [-concurrency 10] [-duration 30s] [-rps 0]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

var queries = []string{
	"distributed systems",
	"search engine",
	"title:ranking algorithm",
	"indexing documents -body:draft",
	"query processing",
	"cache optimization tie:0.5",
	"shard routing",
	"circuit breaker",
	"load balancing NOT kubernetes",
	"full text search",
	"inverted index",
	"title:bm25^3 scoring",
	"token stemming",
	"document ingestion",
}

var tieBreakers = []string{"", "0", "0.1", "1"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "overall request rate limit, 0 for unlimited")
	flag.Parse()

	fmt.Println("=== dismax-search load test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %d x %d tie-breakers\n", len(queries), len(tieBreakers))
	fmt.Println()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if *rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rps), 1)
	}
	stats := run(*baseURL, *concurrency, *duration, limiter)
	stats.Report(os.Stdout, *duration)
	if stats.Total() == 0 {
		fmt.Println("WARNING: no requests completed. Is the service running?")
		os.Exit(1)
	}
}

func run(baseURL string, concurrency int, duration time.Duration, limiter *rate.Limiter) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for i := w; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				target := searchURL(baseURL, i)
				start := time.Now()
				status, cached, err := doSearch(ctx, client, target)
				if ctx.Err() != nil {
					return nil
				}
				stats.Record(time.Since(start), status, cached, err)
			}
		})
	}
	_ = g.Wait()
	return stats
}

func searchURL(baseURL string, i int) string {
	params := url.Values{}
	params.Set("q", queries[i%len(queries)])
	params.Set("limit", "10")
	if tie := tieBreakers[(i/len(queries))%len(tieBreakers)]; tie != "" {
		params.Set("tie", tie)
	}
	return baseURL + "/api/v1/search?" + params.Encode()
}

func doSearch(ctx context.Context, client *http.Client, target string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, false, nil
	}
	var body proto.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, false, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, body.Cached, nil
}

func statusLabel(code int) string {
	if code == 0 {
		return "transport error"
	}
	return strconv.Itoa(code)
}
