package llm

import (
	"context"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// GenerationParams are optional sampling knobs. Nil fields mean use the
// backend's default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives one content increment per call, in arrival order.
// Returning a non-nil error aborts the stream.
type StreamCallback func(chunk string) error

// LLMClient defines the standard interface for any LLM backend.
//
// Generate is a single-prompt completion used for structured calls
// (classification, evaluation). Chat and ChatStream take full message
// history; ChatStream delivers the answer incrementally via callback.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
