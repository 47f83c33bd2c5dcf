package llmconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/modelgate/internal/llmerr"
)

const sampleRegistry = `
providers:
  - key: ANTHROPIC_CLAUDE3.7_SONNET
    model: anthropic/claude-3-7-sonnet-latest
    required_env: [ANTHROPIC_API_KEY]
    supports_vision: true
    add_assistant_prefix: true
    max_tokens: 8192
    litellm_params:
      api_key: ${ANTHROPIC_API_KEY}
      thinking:
        type: enabled
        budget_tokens: 1024
  - key: VERTEX_GEMINI_2.5_FLASH
    model: vertex_ai/gemini-2.5-flash
    required_env: [VERTEX_CREDENTIALS]
routers:
  - key: AZURE_GPT4_1_ROUTER
    required_env: [AZURE_API_KEY]
    main_model_group: main
    fallback_model_group: backup
    routing_strategy: least-busy
    num_retries: 2
    retry_delay: 500ms
    cooldown_time: 30s
    model_list:
      - group: main
        model: azure/gpt-4.1
        rpm: 60
        litellm_params:
          api_key: ${AZURE_API_KEY}
          api_base: https://example.openai.azure.com
      - group: backup
        model: openai/gpt-4.1
`

func TestParse(t *testing.T) {
	configs, err := Parse([]byte(sampleRegistry))
	require.NoError(t, err)
	require.Len(t, configs, 3)

	claude := configs[0].(ProviderConfig)
	assert.Equal(t, "ANTHROPIC_CLAUDE3.7_SONNET", claude.Key)
	assert.True(t, claude.AddAssistantPrefix)
	assert.Equal(t, 8192, claude.MaxTokens)
	require.NotNil(t, claude.Params.Thinking)
	assert.Equal(t, 1024, claude.Params.Thinking.BudgetTokens)

	router := configs[2].(RouterConfig)
	assert.Equal(t, StrategyLeastBusy, router.Strategy)
	assert.Equal(t, 500*time.Millisecond, router.RetryDelay)
	assert.Equal(t, 30*time.Second, router.CooldownTime)
	assert.Equal(t, 60, router.Deployments[0].RPM)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("providers: [\n"))
	assert.ErrorIs(t, err, llmerr.ErrInvalidConfig)
}

func TestLoadFile_RegistersValidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRegistry), 0o600))

	reg := NewRegistry(MapEnv{"ANTHROPIC_API_KEY": "sk-ant", "AZURE_API_KEY": "az"})
	err := LoadFile(reg, path)

	require.ErrorIs(t, err, llmerr.ErrMissingProviderCredentials)
	assert.Equal(t, []string{"ANTHROPIC_CLAUDE3.7_SONNET", "AZURE_GPT4_1_ROUTER"}, reg.Keys())
}
