package service

import (
	"fmt"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/llm"
)

const plainPrompt = `You are a helpful assistant. Answer the user's questions clearly and concisely.`

// noMatchesNote is added to the plain prompt when retrieval was asked for and
// found nothing, including sessions with no sources yet.
const noMatchesNote = `
No relevant passages were found in the user's documents for this question. Answer from your own knowledge and say that the documents did not cover it.`

const augmentedPrompt = `You are a helpful assistant. Answer the user's questions using the reference material below.
The material may not always be related or helpful; when it is not, say so and answer from your own knowledge.

Reference material:
`

// buildMessages assembles system prompt, bounded history and the question.
// Reference material is included only when material is non-empty.
func buildMessages(history []llm.Message, limit int, material []domain.SearchResult, reason Reason, question string) []llm.Message {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(material, reason)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
	return msgs
}

func systemPrompt(material []domain.SearchResult, reason Reason) string {
	if len(material) == 0 {
		if reason == ReasonNoMatches || reason == ReasonNoSources {
			return plainPrompt + "\n" + noMatchesNote
		}
		return plainPrompt
	}
	var b strings.Builder
	b.WriteString(augmentedPrompt)
	for i, r := range material {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, r.Chunk.Origin, r.Chunk.Text)
	}
	return b.String()
}
