package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// OpenAIClient implements Client over langchaingo's OpenAI model
type OpenAIClient struct {
	llm    llms.Model
	config *Config
}

// OpenAIOption configures the underlying langchaingo model
type OpenAIOption = openai.Option

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(config *Config, apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config == nil {
		config = DefaultOpenAIConfig()
	}

	all := append([]openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(config.GetModel(TierStandard)),
	}, opts...)
	model, err := openai.New(all...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return &OpenAIClient{llm: model, config: config}, nil
}

// Generate implements Client
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for tier %s", req.Tier)
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{llms.WithModel(modelName)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Model: modelName, Message: "generate content failed", Cause: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Model: modelName, Message: "no response choices"}
	}

	choice := resp.Choices[0]
	text := choice.Content
	if req.JSON {
		text = CleanJSONBlock(text)
	}
	return &Response{Text: text, Usage: usageFromGenerationInfo(modelName, choice.GenerationInfo)}, nil
}

// Model returns the model name for a tier
func (c *OpenAIClient) Model(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op; the HTTP transport is shared
func (c *OpenAIClient) Close() error {
	return nil
}

// usageFromGenerationInfo reads token counts from langchaingo's generation info map.
func usageFromGenerationInfo(model string, info map[string]any) types.Usage {
	return types.Usage{
		Model:        model,
		InputTokens:  intFromInfo(info, "PromptTokens"),
		OutputTokens: intFromInfo(info, "CompletionTokens"),
		CachedTokens: intFromInfo(info, "PromptCachedTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
