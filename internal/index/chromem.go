package index

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Metadata keys stored alongside each chunk.
const (
	metaSource  = "source"
	metaOrdinal = "ordinal"
	metaFolder  = "folder_id"
)

// ChromemConfig holds the settings for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the directory holding the persistent database. Empty selects
	// an in-memory database (used in tests).
	Path string

	// Compress enables gzip compression of the persisted collection files.
	Compress bool
}

// ChromemManager implements rag.IndexManager on an embedded chromem database.
// Each user maps to one collection; persistent collections are reloaded from
// disk on startup, so tenant indexes survive process restarts.
type ChromemManager struct {
	// db is the underlying chromem database.
	db *chromem.DB
}

// NewChromemManager opens (or creates) the chromem database described by cfg.
func NewChromemManager(cfg *ChromemConfig) (*ChromemManager, error) {
	if cfg == nil {
		cfg = &ChromemConfig{}
	}
	if cfg.Path == "" {
		return &ChromemManager{db: chromem.NewDB()}, nil
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("index: opening chromem database at %s: %w", cfg.Path, err)
	}
	return &ChromemManager{db: db}, nil
}

// collectionName returns the chromem collection name for a user.
func collectionName(userID string) string {
	return "user_" + userID + "_docs"
}

// noEmbedding is the chromem embedding function for all collections.
// Embeddings are always computed upstream by the rag.Embedder and supplied
// with every document and query, so this must never be invoked.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("index: embedding requested from storage layer; embeddings must be supplied by the caller")
}

// Tenant returns the collection for userID, creating it lazily on first use.
func (m *ChromemManager) Tenant(_ context.Context, userID string) (rag.TenantIndex, error) {
	col, err := m.db.GetOrCreateCollection(collectionName(userID), nil, noEmbedding)
	if err != nil {
		return nil, &rag.IndexCorruptError{UserID: userID, Err: err}
	}
	return &chromemTenant{col: col, userID: userID}, nil
}

// Clear removes all stored chunks and vectors for userID, including the
// on-disk collection directory. Clearing an absent collection is a no-op.
func (m *ChromemManager) Clear(_ context.Context, userID string) error {
	if err := m.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("index: clearing collection for user %s: %w", userID, err)
	}
	return nil
}

// Close releases resources. The chromem database holds no open handles
// between operations, so this is a no-op kept for interface symmetry with
// the Qdrant backend.
func (m *ChromemManager) Close() error { return nil }

// chromemTenant implements rag.TenantIndex on one chromem collection.
type chromemTenant struct {
	// col is the user's collection.
	col *chromem.Collection
	// userID owns this collection; used for error attribution.
	userID string
}

// Add stores a batch of chunks with their pre-computed embeddings. The batch
// is validated up front and rolled back on partial failure, so either every
// chunk lands or none does.
func (t *chromemTenant) Add(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("index: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		if len(embeddings[i]) == 0 {
			return fmt.Errorf("index: empty embedding for chunk %d of %s", c.Ordinal, c.SourceID)
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		meta := map[string]string{
			metaSource:  c.SourceID,
			metaOrdinal: strconv.Itoa(c.Ordinal),
		}
		if c.FolderID != "" {
			meta[metaFolder] = c.FolderID
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   c.Text,
			Metadata:  meta,
			Embedding: embeddings[i],
		}
	}

	if err := t.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// Roll back whatever subset landed so the index is exactly as it
		// was before the batch started.
		_ = t.col.Delete(context.WithoutCancel(ctx), nil, nil, ids...)
		return fmt.Errorf("index: adding %d chunks for user %s: %w", len(chunks), t.userID, err)
	}
	return nil
}

// Query fetches the params.FetchK nearest neighbours (optionally restricted
// to a folder) and returns up to params.K chunks selected by MMR.
func (t *chromemTenant) Query(ctx context.Context, queryEmbedding []float32, params rag.SearchParams) ([]rag.ScoredChunk, error) {
	total := t.col.Count()
	if total == 0 {
		return nil, nil
	}

	fetchK := params.FetchK
	if fetchK < params.K {
		fetchK = params.K
	}
	if fetchK > total {
		fetchK = total
	}

	var where map[string]string
	if params.FolderID != "" {
		where = map[string]string{metaFolder: params.FolderID}
	}

	results, err := t.col.QueryEmbedding(ctx, queryEmbedding, fetchK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("index: querying collection for user %s: %w", t.userID, err)
	}
	if len(results) == 0 {
		// Filter narrowed the pool to nothing — empty result, not an error.
		return nil, nil
	}

	cands := make([]candidate, len(results))
	for i, r := range results {
		cands[i] = candidate{relevance: r.Similarity, embedding: r.Embedding}
	}

	picked := mmrSelect(cands, params.K, params.Lambda)
	scored := make([]rag.ScoredChunk, 0, len(picked))
	for _, i := range picked {
		scored = append(scored, rag.ScoredChunk{
			Chunk: resultChunk(results[i]),
			Score: results[i].Similarity,
		})
	}
	return scored, nil
}

// Count reports the number of chunks currently stored.
func (t *chromemTenant) Count(context.Context) (int, error) {
	return t.col.Count(), nil
}

// resultChunk converts a chromem result back into the domain chunk.
func resultChunk(r chromem.Result) rag.Chunk {
	ordinal, _ := strconv.Atoi(r.Metadata[metaOrdinal])
	return rag.Chunk{
		ID:       r.ID,
		Text:     r.Content,
		SourceID: r.Metadata[metaSource],
		Ordinal:  ordinal,
		FolderID: r.Metadata[metaFolder],
	}
}
