// Package mockserver runs an OpenAI-compatible completions endpoint
// with configurable token pacing, for exercising the benchmark without
// a real model server.
package mockserver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Config shapes the simulated server.
type Config struct {
	Port int
	// TTFT is the delay before the first token of each stream.
	TTFT time.Duration
	// TokenInterval is the gap between subsequent tokens.
	TokenInterval time.Duration
	// Jitter adds up to this much random extra delay per token.
	Jitter time.Duration
	// MaxConcurrency rejects streams with 429 above this many in
	// flight. Zero means unlimited.
	MaxConcurrency int64
	// FailureRate randomly fails this fraction of requests with 500.
	FailureRate float64
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// Server is the mock model server.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	inflight atomic.Int64
	srv      *http.Server
}

func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.TTFT <= 0 {
		cfg.TTFT = 50 * time.Millisecond
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler builds the route tree. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/v1/completions", s.handleCompletions)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock server listening", "addr", s.srv.Addr,
			"ttft", s.cfg.TTFT, "token_interval", s.cfg.TokenInterval)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleCompletions(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Stream {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only streaming completions are supported"})
		return
	}

	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	if s.cfg.MaxConcurrency > 0 && n > s.cfg.MaxConcurrency {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server overloaded"})
		return
	}
	if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "simulated failure"})
		return
	}

	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = 16
	}
	promptTokens := len(strings.Fields(req.Prompt))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ctx := c.Request.Context()
	if !s.pause(ctx, s.delay(s.cfg.TTFT)) {
		return
	}

	for i := 0; i < tokens; i++ {
		if i > 0 && !s.pause(ctx, s.delay(s.cfg.TokenInterval)) {
			return
		}
		fmt.Fprintf(c.Writer, "data: {\"choices\":[{\"text\":\"tok%d \"}]}\n\n", i)
		flusher.Flush()
	}

	fmt.Fprintf(c.Writer,
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":%d,\"completion_tokens\":%d}}\n\n",
		promptTokens, tokens)
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) delay(base time.Duration) time.Duration {
	if s.cfg.Jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
}

// pause sleeps for d unless the client goes away first.
func (s *Server) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
