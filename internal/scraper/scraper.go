// Package scraper drives the scrape-parse-shard-publish pipeline on a
// fixed interval. It is the single writer of the snapshot slot.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/prom-reaper/internal/config"
	"github.com/tinytelemetry/prom-reaper/internal/exposition"
	"github.com/tinytelemetry/prom-reaper/internal/sharder"
	"github.com/tinytelemetry/prom-reaper/internal/state"
)

// MaxBodyBytes caps how much of an upstream response is read. A source
// exceeding it fails for that cycle only.
const MaxBodyBytes = 64 << 20

// Scraper periodically fetches all configured sources in parallel,
// rebuilds the shard set, and publishes a fresh snapshot.
type Scraper struct {
	cfg    *config.Config
	client *http.Client
	pub    *state.Publisher

	// maxBody caps upstream response reads; MaxBodyBytes outside tests.
	maxBody int64

	// consecutiveFailures counts scrape cycles in a row where every
	// source failed; reset on the first success.
	consecutiveFailures atomic.Uint64
	failuresTotal       atomic.Uint64
}

// New creates a scraper publishing into pub. The client is shared
// across sources; per-source timeouts come from the request context.
func New(cfg *config.Config, pub *state.Publisher) *Scraper {
	return &Scraper{
		cfg:     cfg,
		client:  &http.Client{},
		pub:     pub,
		maxBody: MaxBodyBytes,
	}
}

// ConsecutiveFailures returns how many cycles in a row had no
// successful source.
func (s *Scraper) ConsecutiveFailures() uint64 {
	return s.consecutiveFailures.Load()
}

// FailuresTotal returns how many cycles ever had no successful source.
func (s *Scraper) FailuresTotal() uint64 {
	return s.failuresTotal.Load()
}

// Run scrapes immediately, then on every interval tick until ctx is
// cancelled. Cycles run inline between tick receives, so they never
// overlap: a cycle outlasting the interval delays the next one, it does
// not stack (ticks that fire mid-cycle collapse into at most one).
func (s *Scraper) Run(ctx context.Context) error {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.cfg.ScrapeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one scrape of all sources and publishes the result
// if at least one source succeeded.
func (s *Scraper) RunCycle(ctx context.Context) {
	start := time.Now()

	fetched := s.fetchAll(ctx)
	if ctx.Err() != nil {
		return
	}

	sources := make([]sharder.SourceFamilies, 0, len(fetched))
	results := make([]state.SourceResult, len(fetched))
	anySuccess := false

	for i, f := range fetched {
		src := s.cfg.Sources[i]
		if f.err != nil {
			slog.Warn("failed to scrape source", "url", src.URL, "err", f.err)
			results[i] = state.SourceResult{
				URL:      src.URL,
				Duration: f.duration,
				Err:      f.err.Error(),
			}
			continue
		}
		slog.Info("scraped source",
			"url", src.URL,
			"families", len(f.families),
			"duration_ms", f.duration.Milliseconds())
		results[i] = state.SourceResult{
			URL:      src.URL,
			Success:  true,
			Duration: f.duration,
			Families: len(f.families),
		}
		sources = append(sources, sharder.SourceFamilies{
			Families:    f.families,
			ExtraLabels: src.ExtraLabels,
		})
		anySuccess = true
	}

	if !anySuccess {
		s.consecutiveFailures.Add(1)
		s.failuresTotal.Add(1)
		slog.Error("all sources failed, keeping stale data",
			"consecutive_failures", s.consecutiveFailures.Load())
		return
	}
	s.consecutiveFailures.Store(0)

	snapshot := &state.Snapshot{
		Shards:     sharder.Build(sources, s.cfg.NumShards),
		Sources:    results,
		LastScrape: time.Now(),
		NumShards:  s.cfg.NumShards,
	}
	s.pub.Publish(snapshot)

	slog.Info("scrape cycle complete", "duration_ms", time.Since(start).Milliseconds())
}

type fetchResult struct {
	families []*exposition.MetricFamily
	duration time.Duration
	err      error
}

// fetchAll fans out one fetch per source and waits for all of them.
// Parsing happens inside each fetch goroutine so slow and large sources
// overlap.
func (s *Scraper) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.cfg.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.cfg.Sources {
		g.Go(func() error {
			results[i] = s.fetchOne(gctx, src)
			return nil
		})
	}
	// Fetch errors are per-source data, never group failures.
	_ = g.Wait()
	return results
}

func (s *Scraper) fetchOne(ctx context.Context, src config.SourceConfig) fetchResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, src.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fetchResult{duration: time.Since(start), err: err}
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fetchResult{duration: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fetchResult{
			duration: time.Since(start),
			err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return fetchResult{duration: time.Since(start), err: err}
	}
	if int64(len(body)) > s.maxBody {
		return fetchResult{
			duration: time.Since(start),
			err:      fmt.Errorf("response body exceeds %d bytes", s.maxBody),
		}
	}

	return fetchResult{
		families: exposition.Parse(body),
		duration: time.Since(start),
	}
}
