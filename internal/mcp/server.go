package mcp

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/redmine-mcp/redmine-mcp-server/internal/config"
	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

const (
	ServerName    = "redmine-mcp-server"
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server. All configuration is injected; nothing
// reads global state after construction.
type Server struct {
	cfg     config.Config
	port    int
	sseMode bool
}

// NewServer creates a new MCP server from the resolved configuration.
func NewServer(cfg config.Config, port int, sseMode bool) *Server {
	return &Server{cfg: cfg, port: port, sseMode: sseMode}
}

// Run starts the MCP server in stdio or SSE mode.
func (s *Server) Run() error {
	if s.sseMode {
		return s.runSSE()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	client := redmine.NewClient(s.cfg)
	handler := NewToolHandlers(client)
	handler.RegisterTools(mcpServer)

	slog.Info("Starting MCP server in stdio mode",
		"redmine_url", s.cfg.BaseURL,
	)

	return server.ServeStdio(mcpServer)
}

// runSSE starts the server in SSE mode. Each connection authenticates
// with its own X-Redmine-API-Key header instead of the process-wide
// key.
func (s *Server) runSSE() error {
	addr := fmt.Sprintf(":%d", s.port)

	slog.Info("Starting MCP server in SSE mode",
		"address", addr,
		"redmine_url", s.cfg.BaseURL,
	)

	sseHandler := &sseHandler{cfg: s.cfg}

	// 100 requests per minute per IP.
	rateLimiter := newSimpleRateLimiter(100, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	handler := securityHeadersMiddleware(rateLimiter.middleware(mux))

	return http.ListenAndServe(addr, handler)
}

// sseHandler handles SSE connections with a per-request API key.
type sseHandler struct {
	cfg config.Config
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-Redmine-API-Key")
	if apiKey == "" {
		http.Error(w, "Missing X-Redmine-API-Key header", http.StatusUnauthorized)
		return
	}

	cfg := h.cfg
	cfg.APIKey = apiKey
	client := redmine.NewClient(cfg)

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	handler := NewToolHandlers(client)
	handler.RegisterTools(mcpServer)

	sseServer := server.NewSSEServer(mcpServer)
	sseServer.ServeHTTP(w, r)
}

// securityHeadersMiddleware adds security headers.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// simpleRateLimiter for SSE mode.
type simpleRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func newSimpleRateLimiter(limit int, window time.Duration) *simpleRateLimiter {
	return &simpleRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (rl *simpleRateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	var recent []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}

	rl.requests[key] = append(recent, now)
	return true
}

func (rl *simpleRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
