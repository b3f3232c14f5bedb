package engine

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/rag"
)

// retriever implements rag.Retriever. A value is bound to one tenant index
// and one folder scope at construction and never changes; a scope change
// produces a fresh value during rebinding.
type retriever struct {
	embedder rag.Embedder
	index    rag.TenantIndex
	params   rag.SearchParams
}

// newRetriever binds a retriever to one (tenant index, folder scope) pair.
func newRetriever(embedder rag.Embedder, index rag.TenantIndex, params rag.SearchParams, folderID string) *retriever {
	params.FolderID = folderID
	return &retriever{embedder: embedder, index: index, params: params}
}

// Retrieve embeds the question and queries the bound index, returning the
// selected chunks most relevant first.
func (r *retriever) Retrieve(ctx context.Context, question string) ([]rag.ScoredChunk, error) {
	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("engine: embedding question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("engine: expected 1 query embedding, got %d", len(vectors))
	}

	chunks, err := r.index.Query(ctx, vectors[0], r.params)
	if err != nil {
		return nil, fmt.Errorf("engine: querying index: %w", err)
	}
	return chunks, nil
}
