package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Request is one completion call
type Request struct {
	System    string
	Prompt    string
	Tier      ModelTier
	JSON      bool
	MaxTokens int
}

// Response is the generated text with the usage it consumed
type Response struct {
	Text  string
	Usage types.Usage
}

// Client is an abstraction over LLM providers
type Client interface {
	// Generate runs one completion
	Generate(ctx context.Context, req Request) (*Response, error)
	// Model returns the provider model used for a tier
	Model(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// ProviderError wraps a failed provider call
type ProviderError struct {
	Provider Provider
	Model    string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the call may succeed if repeated. Context cancellation never is.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// NewClient creates a client for the configured provider
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}
