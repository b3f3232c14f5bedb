// Package engine composes the docchat RAG core: loading and chunking on
// ingest, history-aware reformulation, MMR retrieval, and answer synthesis on
// query, with a per-(user, folder scope) retriever binding managed as an
// explicit state machine. The engine is an in-process library; the CLI and
// the HTTP server are thin callers.
package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/rag"
)

// ChunkSummary describes one chunk produced by an ingest call.
type ChunkSummary struct {
	// ID is the stored chunk ID.
	ID string `json:"id"`
	// SourceID is the document the chunk came from.
	SourceID string `json:"sourceId"`
	// Ordinal is the chunk's position within its source.
	Ordinal int `json:"ordinal"`
	// Chars is the chunk text length in characters.
	Chars int `json:"chars"`
}

// Config assembles an Engine from its collaborators.
type Config struct {
	// Loader decodes documents into text blocks.
	Loader *loader.Loader

	// Chunker splits text blocks into overlapping chunks.
	Chunker *chunker.Chunker

	// Embedder converts text to vectors.
	Embedder rag.Embedder

	// Indexes owns the per-user vector collections.
	Indexes rag.IndexManager

	// Model is the completion backend used for reformulation and synthesis.
	Model model.BaseChatModel

	// DisplayNames maps user IDs to display names for the identity contract.
	// A user absent from the map is addressed by their ID.
	DisplayNames map[string]string

	// Search overrides the retrieval parameters. Zero value selects the
	// defaults (k=8, fetchK=20, lambda=0.5).
	Search rag.SearchParams

	// MaxContextTokens bounds the synthesis prompt; 0 selects the default.
	MaxContextTokens int
}

// binding is one user's current retrieval chain state: the attached tenant
// index and the retriever constructed for a folder scope.
type binding struct {
	scope     string
	index     rag.TenantIndex
	retriever rag.Retriever
}

// userState serializes mutating and rebinding operations for one user and
// holds that user's current binding. Distinct users never share state.
type userState struct {
	mu      sync.Mutex
	binding *binding
}

// Engine is the RAG orchestrator. It is safe for concurrent use; operations
// against one user's index are serialized, operations for distinct users
// proceed in parallel.
type Engine struct {
	cfg *Config

	reform *reformulator
	synth  *synthesizer

	// mu guards users.
	mu    sync.Mutex
	users map[string]*userState
}

// New constructs an Engine from its collaborators.
func New(cfg *Config) *Engine {
	search := cfg.Search
	if search.K == 0 {
		search = rag.DefaultSearchParams()
	}
	c := *cfg
	c.Search = search
	return &Engine{
		cfg:    &c,
		reform: &reformulator{model: cfg.Model},
		synth:  &synthesizer{model: cfg.Model, maxContextTokens: cfg.MaxContextTokens},
		users:  make(map[string]*userState),
	}
}

// user returns the state record for userID, creating it on first use.
func (e *Engine) user(userID string) *userState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.users[userID]
	if !ok {
		s = &userState{}
		e.users[userID] = s
	}
	return s
}

// displayName resolves the tenant display name for the identity contract.
func (e *Engine) displayName(userID string) string {
	if name, ok := e.cfg.DisplayNames[userID]; ok && name != "" {
		return name
	}
	return userID
}

// bind ensures the user's binding matches scope, rebinding when unbound or
// bound to a different scope. The caller must hold the user's mutex.
func (e *Engine) bind(ctx context.Context, s *userState, userID, scope string) (*binding, error) {
	if s.binding != nil && s.binding.scope == scope {
		return s.binding, nil
	}

	idx, err := e.cfg.Indexes.Tenant(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.binding = &binding{
		scope:     scope,
		index:     idx,
		retriever: newRetriever(e.cfg.Embedder, idx, e.cfg.Search, scope),
	}
	return s.binding, nil
}

// Ingest loads the document at path, chunks it, embeds the chunks, and adds
// them to the user's index under the optional folder scope. The batch lands
// atomically; a failure leaves the index exactly as it was. Re-ingesting the
// same document appends a duplicate chunk set; callers wanting replacement
// semantics clear the index first.
func (e *Engine) Ingest(ctx context.Context, userID, path, folderID string) ([]ChunkSummary, error) {
	blocks, err := e.cfg.Loader.Load(path)
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "ingest", Err: err}
	}

	chunks := e.cfg.Chunker.Split(filepath.Base(path), blocks)
	if len(chunks) == 0 {
		return []ChunkSummary{}, nil
	}
	for i := range chunks {
		chunks[i].FolderID = folderID
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.cfg.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "ingest", Err: err}
	}

	s := e.user(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := e.bind(ctx, s, userID, folderID)
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "ingest", Err: err}
	}
	if err := b.index.Add(ctx, chunks, vectors); err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "ingest", Err: err}
	}

	summaries := make([]ChunkSummary, len(chunks))
	for i, c := range chunks {
		summaries[i] = ChunkSummary{
			ID:       c.ID,
			SourceID: c.SourceID,
			Ordinal:  c.Ordinal,
			Chars:    len(c.Text),
		}
	}
	return summaries, nil
}

// Query answers a question against the user's documents. It rebinds the
// retrieval chain when the requested (user, scope) pair differs from the
// current binding, then runs reformulation, retrieval, and synthesis in
// sequence. A reformulation failure degrades to the original question; any
// other provider failure is surfaced to the caller.
func (e *Engine) Query(ctx context.Context, userID, question string, history []rag.Turn, folderID string) (*rag.QueryResult, error) {
	s := e.user(userID)

	// Rebinding mutates the user's chain state, so it runs under the user's
	// mutex. The provider calls below only read the immutable binding and
	// run outside it, so one user's slow completion never blocks their next
	// rebind check longer than the map lookup.
	s.mu.Lock()
	b, err := e.bind(ctx, s, userID, folderID)
	s.mu.Unlock()
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "query", Err: err}
	}

	standalone := e.reform.Reformulate(ctx, question, history)

	chunks, err := b.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "query", Err: err}
	}

	answer, err := e.synth.Synthesize(ctx, e.displayName(userID), question, history, chunks)
	if err != nil {
		return nil, &rag.OpError{UserID: userID, Op: "query", Err: err}
	}

	return &rag.QueryResult{
		Answer:               answer,
		RetrievedChunks:      chunks,
		ReformulatedQuestion: standalone,
	}, nil
}

// ClearIndex destroys all stored chunks and vectors for userID and drops any
// current binding. Clearing a user with no index is a no-op.
func (e *Engine) ClearIndex(ctx context.Context, userID string) error {
	s := e.user(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.binding = nil
	if err := e.cfg.Indexes.Clear(ctx, userID); err != nil {
		return &rag.OpError{UserID: userID, Op: "clear", Err: err}
	}
	return nil
}
