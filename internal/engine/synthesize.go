package engine

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/rag"
)

// synthesizer produces the final answer from retrieved chunks, conversation
// history, and the tenant's display name in exactly one completion call.
type synthesizer struct {
	model model.BaseChatModel

	// maxContextTokens bounds the estimated prompt size; history is trimmed
	// oldest-first to fit.
	maxContextTokens int
}

// Synthesize issues the single completion call for a query. The system
// message carries the display name and the retrieved context; history
// precedes the current question to preserve turn order. There is no separate
// empty-context branch, the system directive alone governs declining.
func (s *synthesizer) Synthesize(ctx context.Context, displayName, question string, history []rag.Turn, chunks []rag.ScoredChunk) (string, error) {
	system := synthesisSystemMessage(displayName, chunks)
	current := schema.UserMessage(question)

	maxTokens := s.maxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	hist := budget.TrimHistory(
		[]*schema.Message{system, current},
		historyMessages(history),
		maxTokens,
	)

	msgs := make([]*schema.Message, 0, len(hist)+2)
	msgs = append(msgs, system)
	msgs = append(msgs, hist...)
	msgs = append(msgs, current)

	resp, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return "", &rag.ProviderUnavailableError{Provider: "completion", Op: "synthesize", Err: err}
	}
	return resp.Content, nil
}
