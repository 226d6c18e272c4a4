// Package provider defines the LLM provider abstraction used by query
// expansion and taxonomy classification. Each provider translates a plain
// prompt-in/text-out call to a specific LLM API (Anthropic, OpenAI-compatible).
// OpenAI-compatible covers Ollama, vLLM and Azure deployments as well.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the interface for LLM backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends a completion request and returns the text response.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// CompletionRequest is the input to an LLM completion call.
type CompletionRequest struct {
	// SystemPrompt is the system-level instruction.
	SystemPrompt string

	// UserPrompt is the single user message.
	UserPrompt string

	// Model is the specific model ID.
	Model string

	// MaxTokens is the maximum output tokens. Zero picks a default.
	MaxTokens int32
}

// New constructs a provider by kind.
func New(kind, endpoint, apiKey, defaultModel string) (Provider, error) {
	switch kind {
	case "anthropic":
		return NewAnthropicProvider(endpoint, apiKey, defaultModel), nil
	case "openai", "openai-compatible":
		return NewOpenAIProvider(endpoint, apiKey, defaultModel), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// ExtractJSON pulls the first JSON object or array out of an LLM response,
// handling fenced code blocks and surrounding prose. Returns "" when no
// JSON-looking block is present.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	// Fenced block first: ```json ... ``` or plain ``` ... ```.
	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			if candidate := strings.TrimSpace(rest[:end]); candidate != "" {
				return candidate
			}
		}
	}

	// Otherwise the outermost brace/bracket span.
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		open := strings.IndexByte(text, pair[0])
		closing := strings.LastIndexByte(text, pair[1])
		if open >= 0 && closing > open {
			return text[open : closing+1]
		}
	}
	return ""
}
