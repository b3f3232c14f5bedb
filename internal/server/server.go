// Package server implements the HTTP server that exposes the docchat RAG
// engine as a REST API: chat, ingest, index lifecycle, health, and metrics.
// The server is started by the `docchat serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// defaultHistoryDepth is the number of persisted messages replayed into each
// chat request when no explicit depth is configured.
const defaultHistoryDepth = 20

// New constructs a Server from the provided engine, history store, and config.
// history may be nil; chat requests then run stateless.
func New(eng ragService, history store.HistoryStore, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover the full chat round-trip through the model.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 4 * time.Minute
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := cfg.MetricsRegistry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	gatherer := cfg.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:  eng,
		history: history,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: DOCCHAT_API_KEY not set — API authentication is disabled")
	}

	// Protected routes: auth then rate limit then instrumentation.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protected("chat", s.handleChat))
	mux.Handle("POST /api/ingest", protected("ingest", s.handleIngest))
	mux.Handle("DELETE /api/index", protected("clear", s.handleClear))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. It replays stored session history into
// the engine, runs the full query pipeline, and persists the new turns.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	log := logging.FromContext(ctx)

	var history []rag.Turn
	if s.history != nil {
		msgs, err := s.history.Recent(ctx, req.UserID, sessionID, s.cfg.HistoryDepth)
		if err != nil {
			// Stored history is an enhancement; a read failure must not
			// block the question itself.
			log.Warn("chat: history read failed", slog.Any("error", err))
		} else {
			history = store.Turns(msgs)
		}
	}

	start := time.Now()
	s.metrics.chatActive.Inc()
	res, err := s.engine.Query(ctx, req.UserID, req.Message, history, req.FolderID)
	s.metrics.chatActive.Dec()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		status := http.StatusInternalServerError
		if rag.IsProviderUnavailable(err) {
			status = http.StatusBadGateway
		}
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		log.Error("chat: query failed", slog.Any("error", err))
		http.Error(w, "query failed", status)
		return
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if s.history != nil {
		if err := s.history.Append(ctx, req.UserID, sessionID, rag.RoleUser, req.Message); err != nil {
			log.Warn("chat: history append failed", slog.Any("error", err))
		} else if err := s.history.Append(ctx, req.UserID, sessionID, rag.RoleAssistant, res.Answer); err != nil {
			log.Warn("chat: history append failed", slog.Any("error", err))
		}
	}

	sources := make([]sourceChunk, len(res.RetrievedChunks))
	for i, sc := range res.RetrievedChunks {
		sources[i] = sourceChunk{
			Text:     sc.Chunk.Text,
			SourceID: sc.Chunk.SourceID,
			Ordinal:  sc.Chunk.Ordinal,
			FolderID: sc.Chunk.FolderID,
			Score:    sc.Score,
		}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:               res.Answer,
		Sources:              sources,
		ReformulatedQuestion: res.ReformulatedQuestion,
	})
}

// handleIngest handles POST /api/ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	log := logging.FromContext(r.Context())

	summaries, err := s.engine.Ingest(r.Context(), req.UserID, req.Path, req.FolderID)
	if err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues("error").Inc()
		log.Error("ingest failed", slog.Any("error", err))
		switch {
		case rag.IsUnsupportedFormat(err):
			http.Error(w, "unsupported document format", http.StatusUnsupportedMediaType)
		case rag.IsProviderUnavailable(err):
			http.Error(w, "embedding provider unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "ingest failed", http.StatusInternalServerError)
		}
		return
	}
	s.metrics.ingestRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestChunksTotal.Add(float64(len(summaries)))

	writeJSON(w, http.StatusOK, ingestResponse{Chunks: summaries})
}

// handleClear handles DELETE /api/index. The operation is idempotent, so
// clearing an absent index still returns 204.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	log := logging.FromContext(r.Context())

	if err := s.engine.ClearIndex(r.Context(), req.UserID); err != nil {
		log.Error("clear failed", slog.Any("error", err))
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}
	if s.history != nil {
		if err := s.history.Purge(r.Context(), req.UserID); err != nil {
			log.Warn("clear: history purge failed", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
