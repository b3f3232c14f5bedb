package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/engine"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat request end to end.
	ChatTimeout time.Duration
	// HistoryDepth is the number of persisted messages replayed into each
	// chat request. Defaults to 20 if zero.
	HistoryDepth int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ragService is the interface the handlers call into. *engine.Engine
// satisfies it; tests inject a fake.
type ragService interface {
	Ingest(ctx context.Context, userID, path, folderID string) ([]engine.ChunkSummary, error)
	Query(ctx context.Context, userID, question string, history []rag.Turn, folderID string) (*rag.QueryResult, error)
	ClearIndex(ctx context.Context, userID string) error
}

// Server is the HTTP server exposing the RAG engine as a REST API.
type Server struct {
	// engine handles ingest, query, and clear operations.
	engine ragService
	// history persists chat turns per (user, session). May be nil, in which
	// case callers supply no stored history and turns are not persisted.
	history store.HistoryStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// UserID identifies the tenant whose documents are queried.
	UserID string `json:"userId"`
	// SessionID selects the chat session for history replay. Defaults to
	// "default" when empty.
	SessionID string `json:"sessionId,omitempty"`
	// Message is the user's question.
	Message string `json:"message"`
	// FolderID optionally restricts retrieval to one folder.
	FolderID string `json:"folderId,omitempty"`
}

// sourceChunk is one retrieved chunk in a chat response.
type sourceChunk struct {
	// Text is the chunk content used as context.
	Text string `json:"text"`
	// SourceID is the document the chunk came from.
	SourceID string `json:"sourceId"`
	// Ordinal is the chunk's position within its source.
	Ordinal int `json:"ordinal"`
	// FolderID is the chunk's folder tag, empty if unscoped.
	FolderID string `json:"folderId,omitempty"`
	// Score is the retrieval similarity score.
	Score float32 `json:"score"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Answer is the synthesized answer text.
	Answer string `json:"answer"`
	// Sources are the chunks used as context, most relevant first.
	Sources []sourceChunk `json:"sources"`
	// ReformulatedQuestion is the standalone question used for retrieval.
	ReformulatedQuestion string `json:"reformulatedQuestion"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// UserID identifies the tenant that owns the document.
	UserID string `json:"userId"`
	// Path is the server-local path of the document to ingest.
	Path string `json:"path"`
	// FolderID optionally tags the document's chunks with a folder.
	FolderID string `json:"folderId,omitempty"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// Chunks summarizes what was stored.
	Chunks []engine.ChunkSummary `json:"chunks"`
}

// clearRequest is the JSON body for DELETE /api/index.
type clearRequest struct {
	// UserID identifies the tenant whose index is destroyed.
	UserID string `json:"userId"`
}
