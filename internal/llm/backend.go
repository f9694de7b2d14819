// Package llm defines the inference capability consumed by the chat service and
// its concrete backends: an Ollama HTTP client and an in-process llama.cpp
// binding (build tag `llama`).
package llm

import "context"

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options are the decoding parameters sent with every request.
type Options struct {
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
}

// Request is a single chat invocation.
type Request struct {
	Model    string
	Messages []Message
	Options  Options
}

// Result summarizes a finished generation.
type Result struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage contains token accounting when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TokenFunc receives generated fragments in production order. Returning an
// error aborts the generation and the error is returned by Chat.
type TokenFunc func(token string) error

// Backend produces a response for an ordered message sequence.
//
// With a nil onToken the call blocks until the complete response is available.
// With a non-nil onToken the backend streams and invokes it once per fragment;
// Result.Content still carries the full text. Implementations must return when
// ctx is canceled.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req Request, onToken TokenFunc) (Result, error)
}
