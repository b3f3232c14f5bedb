package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/engine"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes and helpers
// ---------------------------------------------------------------------------

// fakeEngine is a test double for the ragService interface. It records the
// arguments of the last Query call and returns canned results.
type fakeEngine struct {
	mu sync.Mutex

	// summaries is returned by Ingest when ingestErr is nil.
	summaries []engine.ChunkSummary
	// result is returned by Query when queryErr is nil.
	result *rag.QueryResult

	ingestErr error
	queryErr  error
	clearErr  error

	// lastHistory holds the history passed to the most recent Query call.
	lastHistory []rag.Turn
	// lastFolder holds the folder scope of the most recent Query call.
	lastFolder string
	clearCalls int
}

func (f *fakeEngine) Ingest(_ context.Context, _, _, _ string) ([]engine.ChunkSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return f.summaries, nil
}

func (f *fakeEngine) Query(_ context.Context, _, _ string, history []rag.Turn, folderID string) (*rag.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHistory = history
	f.lastFolder = folderID
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &rag.QueryResult{Answer: "canned answer"}, nil
}

func (f *fakeEngine) ClearIndex(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return f.clearErr
}

// newTestServer builds a Server with a fake engine, no history store, and an
// isolated metrics registry.
func newTestServer() *Server {
	return newTestServerWith(&fakeEngine{}, nil, "")
}

func newTestServerWith(eng ragService, history store.HistoryStore, apiKey string) *Server {
	reg := prometheus.NewRegistry()
	s, err := New(eng, history, &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		APIKey:          apiKey,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		panic(err)
	}
	return s
}

// do sends a JSON request through the server's full handler chain.
func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

// openTestHistory returns an in-memory history store closed on test cleanup.
func openTestHistory(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// ---------------------------------------------------------------------------
// POST /api/chat
// ---------------------------------------------------------------------------

func Test_HandleChat_OK(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{result: &rag.QueryResult{
		Answer: "grace hopper wrote it",
		RetrievedChunks: []rag.ScoredChunk{
			{Chunk: rag.Chunk{Text: "chunk one", SourceID: "notes.txt", Ordinal: 0, FolderID: "f1"}, Score: 0.91},
		},
		ReformulatedQuestion: "who wrote the compiler?",
	}}
	s := newTestServerWith(eng, nil, "")

	w := do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", Message: "who wrote it?"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "grace hopper wrote it" {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if resp.ReformulatedQuestion != "who wrote the compiler?" {
		t.Errorf("reformulated: got %q", resp.ReformulatedQuestion)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	src := resp.Sources[0]
	if src.SourceID != "notes.txt" || src.FolderID != "f1" || src.Score != 0.91 {
		t.Errorf("unexpected source: %+v", src)
	}
}

func Test_HandleChat_ValidatesRequest(t *testing.T) {
	t.Parallel()

	s := newTestServer()

	cases := []struct {
		name string
		body any
	}{
		{"missing user", chatRequest{Message: "hi"}},
		{"missing message", chatRequest{UserID: "u1"}},
	}
	for _, tc := range cases {
		w := do(t, s, http.MethodPost, "/api/chat", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}
}

func Test_HandleChat_ProviderUnavailableMapsTo502(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{queryErr: &rag.ProviderUnavailableError{
		Provider: "completion",
		Op:       "synthesize",
		Err:      errors.New("connection refused"),
	}}
	s := newTestServerWith(eng, nil, "")

	w := do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", Message: "hi"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func Test_HandleChat_PersistsAndReplaysHistory(t *testing.T) {
	t.Parallel()

	st := openTestHistory(t)
	eng := &fakeEngine{}
	s := newTestServerWith(eng, st, "")

	// First turn: no stored history yet.
	w := do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", SessionID: "s1", Message: "first question"})
	if w.Code != http.StatusOK {
		t.Fatalf("first turn: expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(eng.lastHistory) != 0 {
		t.Errorf("first turn: expected empty history, got %d turns", len(eng.lastHistory))
	}

	// Second turn: the first exchange must be replayed.
	w = do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", SessionID: "s1", Message: "follow-up"})
	if w.Code != http.StatusOK {
		t.Fatalf("second turn: expected 200, got %d", w.Code)
	}
	if len(eng.lastHistory) != 2 {
		t.Fatalf("second turn: expected 2 history turns, got %d", len(eng.lastHistory))
	}
	if eng.lastHistory[0].Role != rag.RoleUser || eng.lastHistory[0].Text != "first question" {
		t.Errorf("unexpected first turn: %+v", eng.lastHistory[0])
	}
	if eng.lastHistory[1].Role != rag.RoleAssistant {
		t.Errorf("unexpected second turn role: %v", eng.lastHistory[1].Role)
	}
}

func Test_HandleChat_SessionDefaultsAndFolderForwarded(t *testing.T) {
	t.Parallel()

	st := openTestHistory(t)
	eng := &fakeEngine{}
	s := newTestServerWith(eng, st, "")

	w := do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", Message: "hi", FolderID: "work"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if eng.lastFolder != "work" {
		t.Errorf("folder: expected %q, got %q", "work", eng.lastFolder)
	}

	msgs, err := st.Recent(t.Context(), "u1", "default", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages under session %q, got %d", "default", len(msgs))
	}
}

// ---------------------------------------------------------------------------
// POST /api/ingest
// ---------------------------------------------------------------------------

func Test_HandleIngest_OK(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{summaries: []engine.ChunkSummary{
		{ID: "c1", SourceID: "doc.pdf", Ordinal: 0, Chars: 1400},
		{ID: "c2", SourceID: "doc.pdf", Ordinal: 1, Chars: 900},
	}}
	s := newTestServerWith(eng, nil, "")

	w := do(t, s, http.MethodPost, "/api/ingest", ingestRequest{UserID: "u1", Path: "/tmp/doc.pdf"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(resp.Chunks))
	}
	if resp.Chunks[1].Ordinal != 1 {
		t.Errorf("ordinal: got %d", resp.Chunks[1].Ordinal)
	}
}

func Test_HandleIngest_UnsupportedFormatMapsTo415(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{ingestErr: &rag.UnsupportedFormatError{Path: "a.bin", Ext: ".bin"}}
	s := newTestServerWith(eng, nil, "")

	w := do(t, s, http.MethodPost, "/api/ingest", ingestRequest{UserID: "u1", Path: "a.bin"})
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", w.Code)
	}
}

func Test_HandleIngest_ValidatesRequest(t *testing.T) {
	t.Parallel()

	s := newTestServer()

	w := do(t, s, http.MethodPost, "/api/ingest", ingestRequest{Path: "doc.txt"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user: expected 400, got %d", w.Code)
	}
	w = do(t, s, http.MethodPost, "/api/ingest", ingestRequest{UserID: "u1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path: expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/index
// ---------------------------------------------------------------------------

func Test_HandleClear_ReturnsNoContent(t *testing.T) {
	t.Parallel()

	st := openTestHistory(t)
	if err := st.Append(t.Context(), "u1", "default", rag.RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	eng := &fakeEngine{}
	s := newTestServerWith(eng, st, "")

	w := do(t, s, http.MethodDelete, "/api/index", clearRequest{UserID: "u1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}
	if eng.clearCalls != 1 {
		t.Errorf("expected 1 clear call, got %d", eng.clearCalls)
	}

	// Session history goes with the index.
	msgs, err := st.Recent(t.Context(), "u1", "default", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected purged history, got %d messages", len(msgs))
	}

	// Clearing again is still 204.
	w = do(t, s, http.MethodDelete, "/api/index", clearRequest{UserID: "u1"})
	if w.Code != http.StatusNoContent {
		t.Errorf("second clear: expected 204, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Auth wiring
// ---------------------------------------------------------------------------

func Test_Server_APIKeyProtectsMutatingRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServerWith(&fakeEngine{}, nil, "secret")

	w := do(t, s, http.MethodPost, "/api/chat", chatRequest{UserID: "u1", Message: "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("chat without token: expected 401, got %d", w.Code)
	}

	// Health stays open for probes.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	// A valid token passes through.
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(chatRequest{UserID: "u1", Message: "hi"})
	req = httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("chat with token: expected 200, got %d — body: %s", rec.Code, rec.Body.String())
	}
}
