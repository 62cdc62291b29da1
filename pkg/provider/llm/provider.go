// Package llm defines the Completer interface for the language model that
// answers push-to-talk turns.
//
// Implementations wrap a remote or local chat completion API and must be safe
// for concurrent use.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoMessages is returned for a request without any messages.
var ErrNoMessages = errors.New("llm: request has no messages")

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// SystemPrompt is sent ahead of Messages with the system role. Empty means
	// no system message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is usually the
	// user's transcript.
	Messages []Message

	// Temperature controls randomness. Zero means the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the backend default.
	MaxTokens int
}

// Validate reports whether r can be sent.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a complete model reply.
type Response struct {
	Content string
	Usage   Usage
}

// Completer produces a single non-streamed reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// UserTurn builds a request for one user utterance under a system prompt.
func UserTurn(systemPrompt, text string) Request {
	return Request{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: text}},
	}
}
