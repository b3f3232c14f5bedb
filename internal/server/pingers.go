package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/rag"
)

// ModelPinger probes a chat model backend by issuing a minimal generation
// request. A successful round-trip means the backend is reachable and the
// configured model exists.
type ModelPinger struct {
	// Model is the chat model to probe.
	Model model.BaseChatModel
	// Label is the name reported in readiness responses (e.g. "ollama").
	Label string
}

// Ping sends a one-word prompt and discards the response.
func (p *ModelPinger) Ping(ctx context.Context) error {
	_, err := p.Model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("model probe: %w", err)
	}
	return nil
}

// Name returns the configured label.
func (p *ModelPinger) Name() string { return p.Label }

// EmbedderPinger probes the embedding backend by embedding a single short
// string.
type EmbedderPinger struct {
	// Embedder is the embedding client to probe.
	Embedder rag.Embedder
}

// Ping embeds a fixed probe string and discards the vector.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := p.Embedder.Embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedder probe: %w", err)
	}
	return nil
}

// Name identifies the embedding dependency.
func (p *EmbedderPinger) Name() string { return "embedder" }

// QdrantPinger probes a Qdrant server through the index manager's health
// check. Only registered when the qdrant index backend is selected.
type QdrantPinger struct {
	// Manager is the connected Qdrant index manager.
	Manager *index.QdrantManager
}

// Ping issues the Qdrant health check RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.Manager.Ping(ctx); err != nil {
		return fmt.Errorf("qdrant probe: %w", err)
	}
	return nil
}

// Name identifies the vector store dependency.
func (p *QdrantPinger) Name() string { return "qdrant" }
