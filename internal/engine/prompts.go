package engine

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/rag"
)

// reformulateSystemPrompt instructs the model to rewrite a follow-up question
// into a standalone one. It must never answer.
const reformulateSystemPrompt = `Given a chat history and the latest user question which might reference context
in the chat history, formulate a standalone question which can be understood
without the chat history. Do NOT answer the question, just reformulate it if
needed and otherwise return it as is.`

// synthesizeSystemPrompt is the answer-synthesis system message template.
// The display name is embedded so identity questions resolve from
// configuration rather than retrieval, and the grounding directive alone
// governs declining when the context is empty or unhelpful.
const synthesizeSystemPrompt = `You are a helpful AI assistant. You are currently assisting a user named %[1]s.

IMPORTANT: When the user asks "what is my name" or "who am I", respond with: "Your name is %[1]s."

Use the following pieces of context to answer the user's question. If you don't know the
answer based on the context, just say that you don't know, don't try to make up an answer.

You are helping %[1]s with their personal documents and queries.

Context: %[2]s`

// synthesisSystemMessage renders the synthesis system message for a tenant
// display name and a set of retrieved chunks.
func synthesisSystemMessage(displayName string, chunks []rag.ScoredChunk) *schema.Message {
	texts := make([]string, len(chunks))
	for i, sc := range chunks {
		texts[i] = sc.Chunk.Text
	}
	context := strings.Join(texts, "\n\n")
	return schema.SystemMessage(fmt.Sprintf(synthesizeSystemPrompt, displayName, context))
}

// historyMessages converts caller-supplied conversation turns into chat
// messages, preserving order.
func historyMessages(history []rag.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case rag.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(turn.Text, nil))
		default:
			msgs = append(msgs, schema.UserMessage(turn.Text))
		}
	}
	return msgs
}
