// Package httpserver serves the read-only HTTP surface: shard bodies,
// health, status, and self-metrics. Every handler performs exactly one
// lock-free snapshot load and never blocks the scraper.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/prom-reaper/internal/state"
)

const expositionContentType = "text/plain; version=0.0.4; charset=utf-8"

// Server exposes the proxy's HTTP endpoints.
type Server struct {
	addr      string
	pub       *state.Publisher
	numShards uint32
	metrics   http.Handler

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the HTTP server. gatherer backs GET /metrics.
func NewServer(addr string, pub *state.Publisher, numShards uint32, gatherer prometheus.Gatherer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		pub:       pub,
		numShards: numShards,
		metrics:   promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.router(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics/shard/:id", s.handleShard)
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(s.metrics))

	return r
}

func (s *Server) handleShard(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.String(http.StatusNotFound, "invalid shard id")
		return
	}

	snapshot := s.pub.Load()
	if snapshot == nil {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	if uint32(id) >= s.numShards {
		c.String(http.StatusNotFound, "shard %d not found, valid range is 0..%d", id, s.numShards)
		return
	}

	shard := &snapshot.Shards[id]
	if acceptsGzip(c.GetHeader("Accept-Encoding")) {
		c.Header("Content-Encoding", "gzip")
		c.Data(http.StatusOK, expositionContentType, shard.Gzip)
		return
	}
	c.Data(http.StatusOK, expositionContentType, shard.Text)
}

// acceptsGzip reports whether an Accept-Encoding header lists the gzip
// coding: comma-separated tokens, case-insensitive, parameters after
// ";" ignored.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		token := part
		if semi := strings.IndexByte(token, ';'); semi >= 0 {
			token = token[:semi]
		}
		if strings.EqualFold(strings.TrimSpace(token), "gzip") {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.pub.Load() == nil {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ok")
}

type statusShard struct {
	ID        int `json:"id"`
	SizeBytes int `json:"size_bytes"`
	Families  int `json:"families"`
	Series    int `json:"series"`
}

type statusSource struct {
	URL            string `json:"url"`
	Success        bool   `json:"success"`
	DurationMS     int64  `json:"duration_ms"`
	MetricFamilies int    `json:"metric_families"`
	Error          string `json:"error,omitempty"`
}

type statusResponse struct {
	NumShards         uint32         `json:"num_shards"`
	LastScrapeAgoSecs float64        `json:"last_scrape_ago_secs"`
	Sources           []statusSource `json:"sources"`
	Shards            []statusShard  `json:"shards"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshot := s.pub.Load()
	if snapshot == nil {
		c.String(http.StatusServiceUnavailable, "no data yet")
		return
	}

	resp := statusResponse{
		NumShards:         snapshot.NumShards,
		LastScrapeAgoSecs: time.Since(snapshot.LastScrape).Seconds(),
		Sources:           make([]statusSource, 0, len(snapshot.Sources)),
		Shards:            make([]statusShard, 0, len(snapshot.Shards)),
	}
	for _, src := range snapshot.Sources {
		resp.Sources = append(resp.Sources, statusSource{
			URL:            src.URL,
			Success:        src.Success,
			DurationMS:     src.Duration.Milliseconds(),
			MetricFamilies: src.Families,
			Error:          src.Err,
		})
	}
	for i := range snapshot.Shards {
		shard := &snapshot.Shards[i]
		resp.Shards = append(resp.Shards, statusShard{
			ID:        i,
			SizeBytes: shard.Size(),
			Families:  shard.Families,
			Series:    shard.Series,
		})
	}

	c.JSON(http.StatusOK, resp)
}
