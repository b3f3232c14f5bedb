package engine

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// reformulator rewrites a context-dependent follow-up question into a
// standalone query using conversation history.
type reformulator struct {
	model model.BaseChatModel
}

// Reformulate returns a standalone version of question. With empty history
// the question is already standalone and no model call is made. The model's
// output is forwarded verbatim; a provider failure falls back to the original
// question, logged as an expected path, never an abort.
func (r *reformulator) Reformulate(ctx context.Context, question string, history []rag.Turn) string {
	if len(history) == 0 {
		return question
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(reformulateSystemPrompt))
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, schema.UserMessage(question))

	resp, err := r.model.Generate(ctx, msgs)
	if err != nil {
		logging.FromContext(ctx).Warn("reformulation failed, using original question",
			"error", err)
		return question
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return question
	}
	return out
}
