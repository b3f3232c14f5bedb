// Package rag defines the data model and interfaces shared by the docchat
// retrieval-augmented generation core: chunks, conversation turns, vector
// storage, embedding, and retrieval. Concrete implementations (chromem,
// Qdrant, the HTTP embedders) satisfy these interfaces so the engine layer
// never depends on a specific backend.
package rag

import (
	"context"
)

// Chunk is a bounded span of source text with positional metadata.
// It is the unit of retrieval and storage, immutable once created.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string

	// Text is the raw text content of the chunk.
	Text string

	// SourceID identifies the document this chunk was split from
	// (typically the base file name).
	SourceID string

	// Ordinal is the zero-based position of this chunk within its source.
	Ordinal int

	// FolderID is the optional folder scope tag. Empty means unscoped.
	FolderID string
}

// ScoredChunk pairs a retrieved chunk with its relevance score.
// Scores are similarity values in [0, 1]; higher is more relevant.
type ScoredChunk struct {
	Chunk Chunk

	// Score is the similarity assigned during retrieval.
	Score float32
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a turn authored by the human user.
	RoleUser Role = "user"
	// RoleAssistant is a turn authored by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single prior conversation turn supplied by the caller.
// The core never persists turns; callers own conversation state.
type Turn struct {
	// Role is the author of the turn.
	Role Role
	// Text is the content of the turn.
	Text string
}

// QueryResult is the outcome of one RAG query.
type QueryResult struct {
	// Answer is the synthesized answer text.
	Answer string

	// RetrievedChunks are the chunks used as context, most relevant first.
	RetrievedChunks []ScoredChunk

	// ReformulatedQuestion is the standalone question actually used for
	// retrieval. Equals the original question when no reformulation applied.
	ReformulatedQuestion string
}

// SearchParams controls a single vector search with MMR re-ranking.
type SearchParams struct {
	// K is the number of chunks to select.
	K int

	// FetchK is the size of the nearest-neighbour candidate pool fetched
	// before MMR selection. Must be >= K.
	FetchK int

	// Lambda balances relevance against diversity in MMR selection.
	// 1 is pure relevance, 0 is pure diversity.
	Lambda float64

	// FolderID optionally restricts candidates to chunks tagged with this
	// folder. Empty means no filter.
	FolderID string
}

// DefaultSearchParams returns the standard retrieval configuration.
func DefaultSearchParams() SearchParams {
	return SearchParams{K: 8, FetchK: 20, Lambda: 0.5}
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TenantIndex is one user's persistent vector collection. Implementations
// must be safe to call from multiple goroutines; the engine additionally
// serializes mutating operations per user.
type TenantIndex interface {
	// Add stores a batch of chunks with their pre-computed embeddings.
	// The embeddings slice must be parallel to chunks. The batch lands
	// atomically: either every chunk is stored or none is.
	Add(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// Query returns up to params.K chunks selected by Maximal Marginal
	// Relevance from the params.FetchK nearest neighbours of queryEmbedding,
	// ordered by selection. A filter that matches nothing yields an empty
	// result, not an error.
	Query(ctx context.Context, queryEmbedding []float32, params SearchParams) ([]ScoredChunk, error)

	// Count reports the number of chunks currently stored.
	Count(ctx context.Context) (int, error)
}

// IndexManager owns the per-user tenant indexes and their on-disk lifecycle.
type IndexManager interface {
	// Tenant returns the index for userID, creating it lazily on first use.
	Tenant(ctx context.Context, userID string) (TenantIndex, error)

	// Clear removes all stored chunks and vectors for userID. It is
	// idempotent: clearing a user with no index is a no-op, not an error.
	Clear(ctx context.Context, userID string) error

	// Close releases any resources held by the manager.
	Close() error
}

// Retriever fetches relevant chunks for a query. A Retriever value is bound
// to one (user, folder scope) pair at construction and is immutable; a scope
// change requires constructing a new Retriever.
type Retriever interface {
	// Retrieve embeds the question and returns the selected chunks,
	// most relevant first.
	Retrieve(ctx context.Context, question string) ([]ScoredChunk, error)
}
