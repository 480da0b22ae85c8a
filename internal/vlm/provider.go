// Package vlm talks to vision-language model providers for frame
// description and threat verification. All providers implement the same
// Provider interface; Service routes requests to the one configured per
// user and tier.
package vlm

import (
	"context"
	"errors"
)

var ErrUnhealthy = errors.New("vlm provider unavailable")

// ChatMessage is one turn of a text conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DescribeRequest asks a provider to describe a single JPEG frame.
type DescribeRequest struct {
	Model       string
	Prompt      string
	ImageJPEG   []byte
	Temperature float64
	MaxTokens   int
}

// Provider is one VLM backend (local Ollama, OpenAI, Gemini). Implementations
// are safe for concurrent use.
type Provider interface {
	// DescribeFrame sends the frame and prompt and returns the raw model text.
	DescribeFrame(ctx context.Context, req DescribeRequest) (string, error)

	// Chat runs a text-only conversation.
	Chat(ctx context.Context, model string, messages []ChatMessage) (string, error)

	// HealthCheck reports whether the provider is reachable.
	HealthCheck(ctx context.Context) error

	// ListModels enumerates models the provider can serve.
	ListModels(ctx context.Context) ([]string, error)

	Name() string
}
