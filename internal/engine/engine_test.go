package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/rag"
)

// fakeChatModel is a scripted model.BaseChatModel. reply receives the
// zero-based call number and the full message slice.
type fakeChatModel struct {
	mu    sync.Mutex
	calls [][]*schema.Message
	reply func(call int, msgs []*schema.Message) (*schema.Message, error)
}

func (f *fakeChatModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, msgs)
	f.mu.Unlock()
	return f.reply(call, msgs)
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fake: streaming not supported")
}

// callCount returns how many Generate calls the fake has seen.
func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// lastCall returns the messages of the most recent Generate call.
func (f *fakeChatModel) lastCall(t *testing.T) []*schema.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no Generate calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

// answerWith returns a reply function that always succeeds with answer.
func answerWith(answer string) func(int, []*schema.Message) (*schema.Message, error) {
	return func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(answer, nil), nil
	}
}

// fakeEmbedder produces deterministic byte-histogram vectors so textually
// similar inputs embed close together.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 8)
		for _, b := range []byte(text) {
			v[int(b)%8]++
		}
		// Guard against the all-zero vector for empty text.
		v[0]++
		out[i] = v
	}
	return out, nil
}

// failingEmbedder always reports the provider as unreachable.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, &rag.ProviderUnavailableError{Provider: "test", Op: "embed", Err: errors.New("down")}
}

// newTestEngine wires an engine onto an in-memory index with a small chunker.
func newTestEngine(t *testing.T, chat *fakeChatModel, emb rag.Embedder) *Engine {
	t.Helper()

	mgr, err := index.NewChromemManager(&index.ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemManager: %v", err)
	}
	ch, err := chunker.New(chunker.Config{ChunkSize: 120, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return New(&Config{
		Loader:       loader.New(),
		Chunker:      ch,
		Embedder:     emb,
		Indexes:      mgr,
		Model:        chat,
		DisplayNames: map[string]string{"u1": "Ada"},
	})
}

// writeDoc writes content to a .txt file in a temp dir and returns its path.
func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func Test_Engine_IngestAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("the text repeats one sentence")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	// A single sentence repeated past the chunk size must split into
	// several chunks.
	doc := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	summaries, err := e.Ingest(ctx, "u1", writeDoc(t, "fox.txt", doc), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(summaries) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(summaries))
	}
	for i, s := range summaries {
		if s.Ordinal != i {
			t.Errorf("summary[%d].Ordinal = %d, want %d", i, s.Ordinal, i)
		}
		if s.SourceID != "fox.txt" {
			t.Errorf("summary[%d].SourceID = %q, want fox.txt", i, s.SourceID)
		}
	}

	res, err := e.Query(ctx, "u1", "what does the text say?", nil, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.RetrievedChunks) == 0 {
		t.Fatal("query returned no chunks")
	}
	if res.Answer == "" {
		t.Fatal("query returned empty answer")
	}
	if res.ReformulatedQuestion != "what does the text say?" {
		t.Errorf("empty history must not reformulate, got %q", res.ReformulatedQuestion)
	}
	// Empty history skips the reformulation call entirely.
	if n := chat.callCount(); n != 1 {
		t.Errorf("model called %d times, want 1 (synthesis only)", n)
	}
}

func Test_Engine_IdentityContract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("Your name is Ada.")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	res, err := e.Query(ctx, "u1", "what is my name", nil, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(res.Answer, "Ada") {
		t.Errorf("answer %q does not contain display name", res.Answer)
	}

	// The system message always embeds the display name and the literal
	// identity instruction, regardless of retrieved content.
	msgs := chat.lastCall(t)
	if msgs[0].Role != schema.System {
		t.Fatalf("first message role = %v, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, `respond with: "Your name is Ada."`) {
		t.Errorf("system message missing identity instruction:\n%s", msgs[0].Content)
	}
}

func Test_Engine_ReformulationFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// First call (reformulation) fails; second call (synthesis) succeeds.
	chat := &fakeChatModel{reply: func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return nil, errors.New("backend unreachable")
		}
		return schema.AssistantMessage("answer", nil), nil
	}}
	e := newTestEngine(t, chat, fakeEmbedder{})

	history := []rag.Turn{
		{Role: rag.RoleUser, Text: "tell me about the fox"},
		{Role: rag.RoleAssistant, Text: "the fox is quick and brown"},
	}
	res, err := e.Query(ctx, "u1", "what color is it?", history, "")
	if err != nil {
		t.Fatalf("Query after reformulation failure: %v", err)
	}
	if res.ReformulatedQuestion != "what color is it?" {
		t.Errorf("fallback must keep the original question, got %q", res.ReformulatedQuestion)
	}
	if res.Answer != "answer" {
		t.Errorf("answer = %q, want %q", res.Answer, "answer")
	}
}

func Test_Engine_Reformulation_UsesHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("what color is the fox?", nil), nil
		}
		return schema.AssistantMessage("brown", nil), nil
	}}
	e := newTestEngine(t, chat, fakeEmbedder{})

	history := []rag.Turn{{Role: rag.RoleUser, Text: "tell me about the fox"}}
	res, err := e.Query(ctx, "u1", "what color is it?", history, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.ReformulatedQuestion != "what color is the fox?" {
		t.Errorf("reformulated question = %q, want the model output verbatim", res.ReformulatedQuestion)
	}
	if n := chat.callCount(); n != 2 {
		t.Errorf("model called %d times, want 2", n)
	}
}

func Test_Engine_TenantIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("I don't know.")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	if _, err := e.Ingest(ctx, "u1", writeDoc(t, "secret.txt", "alice's launch codes"), ""); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	res, err := e.Query(ctx, "u2", "what are the launch codes?", nil, "")
	if err != nil {
		t.Fatalf("Query as u2: %v", err)
	}
	if len(res.RetrievedChunks) != 0 {
		t.Errorf("u2 retrieved %d of u1's chunks, want 0", len(res.RetrievedChunks))
	}
}

func Test_Engine_FolderScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("ok")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	if _, err := e.Ingest(ctx, "u1", writeDoc(t, "work.txt", "quarterly revenue numbers"), "F1"); err != nil {
		t.Fatalf("Ingest F1: %v", err)
	}
	if _, err := e.Ingest(ctx, "u1", writeDoc(t, "home.txt", "grocery shopping list"), "F2"); err != nil {
		t.Fatalf("Ingest F2: %v", err)
	}

	res, err := e.Query(ctx, "u1", "revenue", nil, "F1")
	if err != nil {
		t.Fatalf("scoped Query: %v", err)
	}
	if len(res.RetrievedChunks) == 0 {
		t.Fatal("F1 query returned no chunks")
	}
	for _, sc := range res.RetrievedChunks {
		if sc.Chunk.FolderID != "F1" {
			t.Errorf("F1-scoped query returned chunk from folder %q", sc.Chunk.FolderID)
		}
	}

	// Unscoped query may see both folders. Rebinding from F1 to "" must
	// drop the previous filter.
	res, err = e.Query(ctx, "u1", "everything", nil, "")
	if err != nil {
		t.Fatalf("unscoped Query: %v", err)
	}
	folders := map[string]bool{}
	for _, sc := range res.RetrievedChunks {
		folders[sc.Chunk.FolderID] = true
	}
	if !folders["F1"] || !folders["F2"] {
		t.Errorf("unscoped query saw folders %v, want both F1 and F2", folders)
	}
}

func Test_Engine_ClearIndexIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("I don't know.")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	// Clear before any ingest is a no-op.
	if err := e.ClearIndex(ctx, "u1"); err != nil {
		t.Fatalf("ClearIndex of absent index: %v", err)
	}

	if _, err := e.Ingest(ctx, "u1", writeDoc(t, "doc.txt", "some document text"), ""); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := e.ClearIndex(ctx, "u1"); err != nil {
		t.Fatalf("first ClearIndex: %v", err)
	}
	if err := e.ClearIndex(ctx, "u1"); err != nil {
		t.Fatalf("second ClearIndex: %v", err)
	}

	res, err := e.Query(ctx, "u1", "anything left?", nil, "")
	if err != nil {
		t.Fatalf("Query after clear: %v", err)
	}
	if len(res.RetrievedChunks) != 0 {
		t.Errorf("query after clear retrieved %d chunks, want 0", len(res.RetrievedChunks))
	}
}

func Test_Engine_IngestUnsupportedFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("ok")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	_, err := e.Ingest(ctx, "u1", writeDoc(t, "image.png", "not text"), "")
	if err == nil {
		t.Fatal("ingest of .png succeeded, want UnsupportedFormat")
	}
	if !rag.IsUnsupportedFormat(err) {
		t.Errorf("error %v is not UnsupportedFormat", err)
	}
	var opErr *rag.OpError
	if !errors.As(err, &opErr) || opErr.UserID != "u1" || opErr.Op != "ingest" {
		t.Errorf("error %v does not carry user and operation", err)
	}
}

func Test_Engine_IngestEmbedFailureLeavesIndexUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("ok")}
	e := newTestEngine(t, chat, failingEmbedder{})

	_, err := e.Ingest(ctx, "u1", writeDoc(t, "doc.txt", "some text"), "")
	if err == nil {
		t.Fatal("ingest with failing embedder succeeded, want error")
	}
	if !rag.IsProviderUnavailable(err) {
		t.Errorf("error %v is not ProviderUnavailable", err)
	}
}

func Test_Engine_SynthesisFailureSurfaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("backend unreachable")
	}}
	e := newTestEngine(t, chat, fakeEmbedder{})

	// Empty history, so the only model call is synthesis and its failure
	// must abort the query.
	_, err := e.Query(ctx, "u1", "question", nil, "")
	if err == nil {
		t.Fatal("query with failing model succeeded, want error")
	}
	if !rag.IsProviderUnavailable(err) {
		t.Errorf("error %v is not ProviderUnavailable", err)
	}
}

func Test_Engine_UsersProceedIndependently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chat := &fakeChatModel{reply: answerWith("ok")}
	e := newTestEngine(t, chat, fakeEmbedder{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		userID := fmt.Sprintf("u%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := writeDoc(t, "doc.txt", strings.Repeat("parallel ingest text. ", 10))
			if _, err := e.Ingest(ctx, userID, doc, ""); err != nil {
				errs <- err
				return
			}
			if _, err := e.Query(ctx, userID, "what text?", nil, ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}
}
