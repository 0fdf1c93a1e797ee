// Command loadtest drives concurrent queries against a running search
// service and prints a latency report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
)

var defaultQueries = []string{
	"machine learning",
	"health",
	"cardiac imaging",
	"public health intervention",
	"cancer screening",
	"protein structure",
	"mental health",
	"clinical trial",
	"physical activity",
	"diabetes",
	"antimicrobial resistance",
	"nursing education",
}

type stats struct {
	requests  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	empty     atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int
	generations map[uint64]int
}

func newStats() *stats {
	return &stats{
		latencies:   make([]time.Duration, 0, 1<<16),
		statusCodes: make(map[int]int),
		generations: make(map[uint64]int),
	}
}

func (s *stats) record(d time.Duration, status int, page *executor.Page, err error) {
	s.requests.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if status == http.StatusOK {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	if page != nil {
		s.generations[page.Generation]++
		if page.TotalMatches == 0 {
			s.empty.Add(1)
		}
	}
}

func main() {
	baseURL := flag.StringP("url", "u", "http://localhost:8080", "base URL of the search service")
	workers := flag.IntP("concurrency", "c", 10, "number of concurrent workers")
	duration := flag.DurationP("duration", "d", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "overall request rate cap, 0 for unlimited")
	maxPage := flag.Int("max-page", 3, "requests pick a page in [1, max-page]")
	pageSize := flag.Int("page-size", 10, "page_size parameter")
	queries := flag.StringSlice("query", defaultQueries, "queries to cycle through")
	flag.Parse()

	if *workers < 1 || *maxPage < 1 || len(*queries) == 0 {
		fmt.Fprintln(os.Stderr, "concurrency, max-page and query must be positive")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var limiter *rate.Limiter
	if *rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rps), *workers)
	}

	fmt.Printf("load test: %s, %d workers for %s\n", *baseURL, *workers, *duration)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *workers * 2,
			MaxIdleConnsPerHost: *workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	s := newStats()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := range *workers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), uint64(start.UnixNano())))
			for i := w; ; i++ {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				if gctx.Err() != nil {
					return nil
				}
				q := (*queries)[i%len(*queries)]
				page := 1 + rng.IntN(*maxPage)
				t0 := time.Now()
				code, res, err := search(gctx, client, *baseURL, q, page, *pageSize)
				if gctx.Err() != nil {
					return nil
				}
				s.record(time.Since(t0), code, res, err)
			}
		})
	}
	_ = g.Wait()

	report(s, time.Since(start))
}

func search(ctx context.Context, client *http.Client, base, query string, page, size int) (int, *executor.Page, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", fmt.Sprint(page))
	params.Set("page_size", fmt.Sprint(size))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v1/search?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	var out executor.Page
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, &out, nil
}

func report(s *stats, elapsed time.Duration) {
	total := s.requests.Load()
	fmt.Println()
	fmt.Printf("requests:     %d (%.1f/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("succeeded:    %d\n", s.succeeded.Load())
	fmt.Printf("failed:       %d\n", s.failed.Load())
	fmt.Printf("zero results: %d\n", s.empty.Load())

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return
	}
	slices.Sort(s.latencies)
	var sum float64
	for _, d := range s.latencies {
		sum += float64(d)
	}
	mean := sum / float64(len(s.latencies))
	var variance float64
	for _, d := range s.latencies {
		variance += math.Pow(float64(d)-mean, 2)
	}
	stddev := time.Duration(math.Sqrt(variance / float64(len(s.latencies))))

	fmt.Println()
	fmt.Printf("latency min:  %s\n", s.latencies[0])
	fmt.Printf("latency mean: %s (stddev %s)\n", time.Duration(mean), stddev)
	for _, p := range []float64{50, 90, 95, 99} {
		fmt.Printf("latency p%-3.0f  %s\n", p, percentile(s.latencies, p))
	}
	fmt.Printf("latency max:  %s\n", s.latencies[len(s.latencies)-1])

	codes := make([]int, 0, len(s.statusCodes))
	for c := range s.statusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	fmt.Println()
	for _, c := range codes {
		fmt.Printf("HTTP %d: %d\n", c, s.statusCodes[c])
	}
	for gen, n := range s.generations {
		fmt.Printf("generation %d served %d responses\n", gen, n)
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
