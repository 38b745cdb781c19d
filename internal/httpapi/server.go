package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/tasksync/internal/procsync"
)

// ProcessSyncer is the sync entry point the HTTP surface exposes.
type ProcessSyncer interface {
	SyncProcess(ctx context.Context, processID string) (procsync.SyncResult, error)
	LastResult(processID string) (procsync.SyncResult, bool)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	SyncTimeout     time.Duration
}

type Server struct {
	syncer      ProcessSyncer
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

func NewServer(syncer ProcessSyncer, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 2 * time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{syncer: syncer, cfg: cfg, rateLimiter: limiter}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	correlationID := getCorrelationID(r)

	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "processes" || parts[3] != "sync" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	processID := parts[2]

	var requiredScope string
	switch r.Method {
	case http.MethodPost:
		requiredScope = "sync:trigger"
	case http.MethodGet:
		requiredScope = "sync:read"
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	if s.rateLimiter != nil {
		key := processID + "|" + claims.Subject
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch r.Method {
	case http.MethodPost:
		s.handleSync(w, r, processID, correlationID)
	case http.MethodGet:
		s.handleLastResult(w, processID, correlationID)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, processID, correlationID string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()

	result, err := s.syncer.SyncProcess(ctx, processID)
	if err != nil {
		var syncErr *procsync.SyncError
		if errors.As(err, &syncErr) {
			switch syncErr.Kind {
			case procsync.SyncErrorNotConnected:
				writeError(w, http.StatusConflict, string(syncErr.Kind), syncErr.Message, correlationID)
			case procsync.SyncErrorNotLinked:
				writeError(w, http.StatusNotFound, string(syncErr.Kind), syncErr.Message, correlationID)
			default:
				writeError(w, http.StatusBadGateway, string(syncErr.Kind), syncErr.Message, correlationID)
			}
			return
		}
		writeError(w, http.StatusInternalServerError, "error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLastResult(w http.ResponseWriter, processID, correlationID string) {
	result, ok := s.syncer.LastResult(processID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no sync has completed for this process", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return "sync_" + uuid.NewString()
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
