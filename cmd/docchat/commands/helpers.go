package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/engine"
	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// engineDeps bundles the engine and the collaborators that commands need
// direct access to (for health probes and shutdown).
type engineDeps struct {
	// Engine is the assembled RAG orchestrator.
	Engine *engine.Engine
	// Model is the chat model backing reformulation and synthesis.
	Model model.BaseChatModel
	// Embedder is the embedding client.
	Embedder rag.Embedder
	// Indexes is the vector index manager.
	Indexes rag.IndexManager
}

// buildEngine assembles the full RAG engine from environment configuration.
// The returned close function releases the index manager.
func buildEngine(ctx context.Context, log *slog.Logger) (*engineDeps, func(), error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, fmt.Errorf("embedding configuration: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := embedder.DefaultDimensions(embBackend)
	if d := getEnvInt("EMBEDDING_DIMENSIONS", 0); d > 0 {
		vectorSize = d
	}

	indexes, err := index.NewManagerFromEnv(vectorSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		_ = indexes.Close()
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	ch, err := chunker.New(chunker.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
	})
	if err != nil {
		_ = indexes.Close()
		return nil, nil, err
	}

	search := rag.DefaultSearchParams()
	if k := getEnvInt("RETRIEVAL_K", 0); k > 0 {
		search.K = k
	}
	if fk := getEnvInt("RETRIEVAL_FETCH_K", 0); fk > 0 {
		search.FetchK = fk
	}
	if l := getEnvFloat("RETRIEVAL_LAMBDA", -1); l >= 0 {
		search.Lambda = l
	}

	var displayNames map[string]string
	if loadedConfig != nil {
		displayNames = loadedConfig.Users
	}

	eng := engine.New(&engine.Config{
		Loader:       loader.New(),
		Chunker:      ch,
		Embedder:     emb,
		Indexes:      indexes,
		Model:        chatModel,
		DisplayNames: displayNames,
		Search:       search,
	})

	deps := &engineDeps{Engine: eng, Model: chatModel, Embedder: emb, Indexes: indexes}
	return deps, func() { _ = indexes.Close() }, nil
}

// openHistory opens the chat history store. DOCCHAT_HISTORY_DB overrides the
// default path (~/.docchat/history.db); "disabled" turns persistence off.
// A nil store with a no-op closer is returned when history is unavailable.
func openHistory(log *slog.Logger) (store.HistoryStore, func()) {
	noop := func() {}

	dbPath := os.Getenv("DOCCHAT_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via DOCCHAT_HISTORY_DB=disabled")
		return nil, noop
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
		dbPath = p
	}

	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// getEnvOrDefault returns the env var value, or def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the env var parsed as an int, or def when unset or invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getEnvFloat returns the env var parsed as a float64, or def when unset or
// invalid.
func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
