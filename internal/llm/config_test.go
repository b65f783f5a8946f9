package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderOpenAI, config.Provider)
	assert.Equal(t, "gpt-4o-mini", config.GetModel(TierLite))
	assert.Equal(t, "gpt-5.1", config.GetModel(TierStandard))
}

func TestConfigFor(t *testing.T) {
	gemini := ConfigFor(ProviderGemini, "")
	assert.Equal(t, ProviderGemini, gemini.Provider)
	assert.Equal(t, "gemini-2.5-flash", gemini.GetModel(TierStandard))

	custom := ConfigFor(ProviderOpenAI, "gpt-4o")
	assert.Equal(t, "gpt-4o", custom.GetModel(TierStandard))
	assert.Equal(t, "gpt-4o", custom.GetModel(TierAdvanced))
	assert.Equal(t, "gpt-4o-mini", custom.GetModel(TierLite))
}

func TestGetModel_Fallback(t *testing.T) {
	config := &Config{Models: map[ModelTier]string{TierLite: "fallback-model"}}
	assert.Equal(t, "fallback-model", config.GetModel("unknown"))

	empty := &Config{Models: map[ModelTier]string{}}
	assert.Equal(t, "", empty.GetModel(TierAdvanced))
}

func TestWithModel_Copies(t *testing.T) {
	config := DefaultGeminiConfig()
	changed := config.WithModel(TierAdvanced, "custom-model")

	assert.Equal(t, "gemini-2.5-pro", config.GetModel(TierAdvanced))
	assert.Equal(t, "custom-model", changed.GetModel(TierAdvanced))
	assert.Equal(t, "gemini-2.5-flash-lite", changed.GetModel(TierLite))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("Gemini")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p)

	p, err = ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	_, err = ParseProvider("bedrock")
	assert.Error(t, err)
}
