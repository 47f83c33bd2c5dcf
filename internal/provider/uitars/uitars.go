// Package uitars serves the UI-TARS vision-action model family, which is only
// reachable through a streaming OpenAI-compatible endpoint. The stream is
// drained and folded into one synthetic completion so callers see the same
// response shape as the generic path.
package uitars

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/provider"
	oaiprovider "github.com/vnmchuo/modelgate/internal/provider/openai"
)

type UITARSProvider struct {
	client openai.Client
}

func New(opts oaiprovider.Options) provider.Provider {
	return &UITARSProvider{client: openai.NewClient(oaiprovider.ClientOptions(opts)...)}
}

func (p *UITARSProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, reqOpts := oaiprovider.MapRequest(req)
	// reasoning parameters are not understood by this family
	params.ReasoningEffort = ""

	start := time.Now()
	stream := p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return nil, oaiprovider.WrapError(p.Name(), err)
	}

	resp, err := oaiprovider.MapResponse(p.Name(), &acc.ChatCompletion)
	if err != nil {
		return nil, err
	}
	// no pricing data for this family yet
	resp.CostKind = provider.CostZero
	resp.RawJSON = syntheticJSON(resp)
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (p *UITARSProvider) Name() string { return "ui-tars" }

func (p *UITARSProvider) Family() llmconfig.Family { return llmconfig.FamilyUITARS }

// syntheticJSON renders the aggregated stream in chat completion form.
func syntheticJSON(resp *provider.Response) string {
	toolCalls := make([]map[string]any, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, map[string]any{
			"id":       tc.ID,
			"type":     "function",
			"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
		})
	}
	raw, _ := json.Marshal(map[string]any{
		"id":     resp.ID,
		"object": "chat.completion",
		"model":  resp.Model,
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": resp.FinishReason,
			"message":       map[string]any{"role": "assistant", "content": resp.Text, "tool_calls": toolCalls},
		}},
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
		},
	})
	return string(raw)
}
