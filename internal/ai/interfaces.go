package ai

import (
	"context"
	"errors"
)

// ErrMalformed reports a generation response that arrived but did not contain
// the expected choices[0].message.content path. Callers substitute a fixed
// fallback reply instead of failing the triggering event.
var ErrMalformed = errors.New("malformed generation response")

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatProvider defines the interface for text-to-text chat completions
type ChatProvider interface {
	// ChatCompletion sends a conversation to the LLM and returns the text response
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (string, error)
}
