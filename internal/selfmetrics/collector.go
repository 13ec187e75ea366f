// Package selfmetrics exposes prom-reaper's own operational metrics as
// a prometheus.Collector backed by the current snapshot.
package selfmetrics

import (
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/prom-reaper/internal/state"
)

var (
	numShardsDesc = prometheus.NewDesc(
		"prom_reaper_num_shards",
		"Configured number of shards.",
		nil, nil)
	lastScrapeAgeDesc = prometheus.NewDesc(
		"prom_reaper_last_scrape_age_seconds",
		"Seconds since the last successful scrape cycle.",
		nil, nil)
	shardSeriesDesc = prometheus.NewDesc(
		"prom_reaper_shard_series",
		"Number of time series in a shard.",
		[]string{"shard"}, nil)
	shardFamiliesDesc = prometheus.NewDesc(
		"prom_reaper_shard_families",
		"Number of metric families in a shard.",
		[]string{"shard"}, nil)
	shardSizeDesc = prometheus.NewDesc(
		"prom_reaper_shard_size_bytes",
		"Size of a shard's uncompressed text in bytes.",
		[]string{"shard"}, nil)
	sourceUpDesc = prometheus.NewDesc(
		"prom_reaper_source_up",
		"Whether the last scrape of a source succeeded (1 = success, 0 = failure).",
		[]string{"url"}, nil)
	sourceDurationDesc = prometheus.NewDesc(
		"prom_reaper_source_scrape_duration_seconds",
		"Duration of the last scrape for a source.",
		[]string{"url"}, nil)
	scrapeFailuresDesc = prometheus.NewDesc(
		"prom_reaper_scrape_failures_total",
		"Scrape cycles where every source failed.",
		nil, nil)
)

// FailureCounter reports how many scrape cycles had no successful
// source. Satisfied by *scraper.Scraper.
type FailureCounter interface {
	FailuresTotal() uint64
}

// Collector reads the publisher on every gather; it holds no state of
// its own, so it is always consistent with what the shard endpoints
// serve.
type Collector struct {
	pub       *state.Publisher
	numShards uint32
	failures  FailureCounter
}

// NewCollector creates a collector over pub.
func NewCollector(pub *state.Publisher, numShards uint32, failures FailureCounter) *Collector {
	return &Collector{pub: pub, numShards: numShards, failures: failures}
}

// NewRegistry returns a private registry with only the prom-reaper
// collector registered, keeping the output to exactly our own series.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- numShardsDesc
	ch <- lastScrapeAgeDesc
	ch <- shardSeriesDesc
	ch <- shardFamiliesDesc
	ch <- shardSizeDesc
	ch <- sourceUpDesc
	ch <- sourceDurationDesc
	ch <- scrapeFailuresDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(numShardsDesc, prometheus.GaugeValue, float64(c.numShards))
	ch <- prometheus.MustNewConstMetric(scrapeFailuresDesc, prometheus.CounterValue, float64(c.failures.FailuresTotal()))

	snapshot := c.pub.Load()
	if snapshot == nil {
		ch <- prometheus.MustNewConstMetric(lastScrapeAgeDesc, prometheus.GaugeValue, math.NaN())
		return
	}

	ch <- prometheus.MustNewConstMetric(lastScrapeAgeDesc, prometheus.GaugeValue,
		time.Since(snapshot.LastScrape).Seconds())

	for i := range snapshot.Shards {
		shard := &snapshot.Shards[i]
		id := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(shardSeriesDesc, prometheus.GaugeValue, float64(shard.Series), id)
		ch <- prometheus.MustNewConstMetric(shardFamiliesDesc, prometheus.GaugeValue, float64(shard.Families), id)
		ch <- prometheus.MustNewConstMetric(shardSizeDesc, prometheus.GaugeValue, float64(shard.Size()), id)
	}
	for _, src := range snapshot.Sources {
		up := 0.0
		if src.Success {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(sourceUpDesc, prometheus.GaugeValue, up, src.URL)
		ch <- prometheus.MustNewConstMetric(sourceDurationDesc, prometheus.GaugeValue, src.Duration.Seconds(), src.URL)
	}
}
