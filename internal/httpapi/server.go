// Package httpapi exposes the coordinator for operational visibility:
// node listing, a source's in-memory cache dump, the merged applied-
// transform log, and a live websocket tail. None of it is part of the
// application-facing Source surface; it is purely for observability.
// Routing is a manual path-split router (no ServeMux), with scoped
// bearer-token auth, the caller's X-Correlation-Id echoed in every
// response body except /health's, and a fixed-window rate limiter.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/livefeed"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *log.Logger
}

type Server struct {
	coord       *coordinator.Coordinator
	log         *TransformLog
	hub         *livefeed.Hub
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(coord *coordinator.Coordinator, log *TransformLog, hub *livefeed.Hub) *Server {
	return NewServerWithConfig(coord, log, hub, ServerConfig{})
}

func NewServerWithConfig(coord *coordinator.Coordinator, txLog *TransformLog, hub *livefeed.Hub, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{window: cfg.RateLimitWindow, max: cfg.RateLimitMax, entries: map[string]rateEntry{}}
	}
	return &Server{coord: coord, log: txLog, hub: hub, cfg: cfg, rateLimiter: limiter}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/live" && r.Method == http.MethodGet {
		s.handleLive(w, r)
		return
	}

	correlationID := getCorrelationID(r)

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")

	var requiredScope string
	var route string
	var nodeName, sourceIndex string

	switch {
	case len(parts) == 1 && parts[0] == "nodes" && r.Method == http.MethodGet:
		requiredScope, route = "ops:read", "nodes"
	case len(parts) == 5 && parts[0] == "nodes" && parts[2] == "sources" && parts[4] == "cache" && r.Method == http.MethodGet:
		requiredScope, route, nodeName, sourceIndex = "ops:read", "node_source_cache", parts[1], parts[3]
	case len(parts) == 1 && parts[0] == "transforms" && r.Method == http.MethodGet:
		requiredScope, route = "ops:read", "transforms"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch route {
	case "nodes":
		s.handleNodes(w, correlationID)
	case "node_source_cache":
		s.handleNodeSourceCache(w, nodeName, sourceIndex, correlationID)
	case "transforms":
		s.handleTransforms(w, r, correlationID)
	}
}

type nodeSummary struct {
	Name         string   `json:"name"`
	Sources      int      `json:"sources"`
	Capabilities []string `json:"sourceCapabilities"`
}

func (s *Server) handleNodes(w http.ResponseWriter, correlationID string) {
	names := s.coord.NodeNames()
	summaries := make([]nodeSummary, 0, len(names))
	for _, name := range names {
		srcs, err := s.coord.Sources(name)
		if err != nil {
			continue
		}
		caps := make([]string, 0, len(srcs))
		for _, src := range srcs {
			caps = append(caps, describeCapabilities(src))
		}
		summaries = append(summaries, nodeSummary{Name: name, Sources: len(srcs), Capabilities: caps})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": summaries, "correlationId": correlationID})
}

type transformable interface {
	Transform(ctx context.Context, t model.Transform) ([]model.Transform, error)
}

type updatable interface {
	Update(ctx context.Context, t model.Transform) (any, error)
}

type fetchable interface {
	Fetch(ctx context.Context, q any) (any, error)
}

type queryable interface {
	Query(ctx context.Context, q any) (any, error)
}

func describeCapabilities(src any) string {
	var caps []string
	if _, ok := src.(transformable); ok {
		caps = append(caps, "transform")
	}
	if _, ok := src.(updatable); ok {
		caps = append(caps, "update")
	}
	if _, ok := src.(fetchable); ok {
		caps = append(caps, "fetch")
	}
	if _, ok := src.(queryable); ok {
		caps = append(caps, "query")
	}
	if len(caps) == 0 {
		return "none"
	}
	return strings.Join(caps, ",")
}

func (s *Server) handleNodeSourceCache(w http.ResponseWriter, nodeName, sourceIndexStr, correlationID string) {
	idx, err := strconv.Atoi(sourceIndexStr)
	if err != nil || idx < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid source index", correlationID)
		return
	}
	src, err := s.coord.Source(nodeName, idx)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
		return
	}
	mem, ok := src.(*source.Memory)
	if !ok {
		writeError(w, http.StatusConflict, "not_a_cache_source", "source does not expose an in-memory cache", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cache": mem.Cache.Dump(), "correlationId": correlationID})
}

func (s *Server) handleTransforms(w http.ResponseWriter, r *http.Request, correlationID string) {
	since := r.URL.Query().Get("since")
	writeJSON(w, http.StatusOK, map[string]any{"transforms": s.log.Since(since), "correlationId": correlationID})
}

// handleLive upgrades to a WebSocket and registers the connection on the
// server's Hub, which then receives every subsequent broadcast the
// coordinator's watched sources emit. Authorization for the live tail is
// deliberately the same bearer check, but as a query parameter since
// browsers cannot set a custom header on the WebSocket handshake.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if _, authErr := authorizeBearer("Bearer "+token, s.cfg.JWTSecret, "ops:read", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)
	<-r.Context().Done()
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{count: 1, resetAt: now.Add(r.window)}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
