package llm

import (
	"fmt"
	"strings"
)

// NewClient constructs the backend named by LLM_BACKEND_TYPE or a
// per-request provider override.
func NewClient(backend string) (LLMClient, error) {
	switch strings.ToLower(backend) {
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	case "claude", "anthropic":
		return NewAnthropicClient()
	case "local", "":
		return NewLocalLlamaCppClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend type: %q", backend)
	}
}
