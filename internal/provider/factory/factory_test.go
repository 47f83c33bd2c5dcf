package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
)

func TestProvider_FamilyDispatch(t *testing.T) {
	f := New(Vertex{})
	ctx := context.Background()

	tests := []struct {
		model  string
		name   string
		family llmconfig.Family
	}{
		{model: "gpt-4o", name: "openai", family: llmconfig.FamilyOpenAI},
		{model: "openrouter/anthropic/claude-sonnet-4", name: "openrouter", family: llmconfig.FamilyOpenAI},
		{model: "anthropic/claude-3-7-sonnet-latest", name: "anthropic", family: llmconfig.FamilyAnthropic},
		{model: "gemini/gemini-2.5-flash", name: "gemini", family: llmconfig.FamilyGemini},
		{model: "volcengine/ui-tars-1.5", name: "ui-tars", family: llmconfig.FamilyUITARS},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := f.Provider(ctx, Target{
				Name:   tt.model,
				Model:  tt.model,
				Params: llmconfig.LiteralParams{APIKey: "sk-test"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
			assert.Equal(t, tt.family, p.Family())
		})
	}
}

func TestProvider_Cached(t *testing.T) {
	f := New(Vertex{})
	target := Target{Name: "OPENAI_GPT4O", Model: "gpt-4o", Params: llmconfig.LiteralParams{APIKey: "sk"}}

	first, err := f.Provider(context.Background(), target)
	require.NoError(t, err)
	second, err := f.Provider(context.Background(), target)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}
