// Package llm defines the chat completion port used to generate answers.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultTemperature keeps answers close to the supplied material.
const DefaultTemperature = 0.3

type Request struct {
	// Model is empty for the client's default model.
	Model       string
	Messages    []Message
	Temperature float64
}

// ChatModel starts a streamed chat completion.
type ChatModel interface {
	Chat(ctx context.Context, req Request) (Stream, error)
}

// Stream yields answer fragments. Recv returns done=true once the answer is
// complete; after that it keeps returning done. A stream cannot be restarted.
type Stream interface {
	Recv() (delta string, done bool, err error)
	Close() error
}

// StaticStream yields each fragment once, then done.
type StaticStream struct {
	Fragments []string
}

func (s *StaticStream) Recv() (string, bool, error) {
	if len(s.Fragments) == 0 {
		return "", true, nil
	}
	f := s.Fragments[0]
	s.Fragments = s.Fragments[1:]
	return f, false, nil
}

func (s *StaticStream) Close() error {
	s.Fragments = nil
	return nil
}
