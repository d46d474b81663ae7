package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Stats accumulates request outcomes from all workers.
type Stats struct {
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int
	errors    int
	cacheHits int
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int),
	}
}

// Record adds one request. Latencies are kept only for 2xx responses.
func (s *Stats) Record(d time.Duration, status int, cached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[status]++
	if err != nil || status < 200 || status >= 300 {
		s.errors++
		return
	}
	s.latencies = append(s.latencies, d)
	if cached {
		s.cacheHits++
	}
}

func (s *Stats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.codes {
		total += n
	}
	return total
}

// Report writes a summary of the run to w.
func (s *Stats) Report(w io.Writer, elapsed time.Duration) {
	total := s.Total()
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", len(s.latencies))
	fmt.Fprintf(w, "Errors:          %d\n", s.errors)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(s.errors)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/elapsed.Seconds())
	}
	if len(s.latencies) > 0 {
		fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits)/float64(len(s.latencies))*100)

		sorted := slices.Clone(s.latencies)
		slices.Sort(sorted)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", sorted[0])
		fmt.Fprintf(w, "Avg:    %s\n", mean(sorted))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-5g %s\n", p, percentile(sorted, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", sorted[len(sorted)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %s: %d\n", statusLabel(code), s.codes[code])
	}
}

func mean(ds []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
