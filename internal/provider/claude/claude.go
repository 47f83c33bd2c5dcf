package claude

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
)

// Options configure the native Anthropic Messages backend.
type Options struct {
	APIKey  string
	BaseURL string
	// Betas are sent as the anthropic-beta header.
	Betas      []string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ClaudeProvider calls the Messages API directly so that thinking blocks,
// output effort and beta features reach the backend unchanged.
type ClaudeProvider struct {
	client anthropic.Client
}

func New(opts Options) provider.Provider {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if len(opts.Betas) > 0 {
		reqOpts = append(reqOpts, option.WithHeader("anthropic-beta", strings.Join(opts.Betas, ",")))
	}
	for k, v := range opts.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &ClaudeProvider{client: anthropic.NewClient(reqOpts...)}
}

func (p *ClaudeProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, reqOpts := p.mapRequest(req)

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &provider.APIError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
		}
		return nil, errors.Wrap(err, "anthropic messages call")
	}

	resp, err := p.mapResponse(msg)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (p *ClaudeProvider) mapRequest(req *provider.Request) (anthropic.MessageNewParams, []option.RequestOption) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleSystem:
			block := anthropic.TextBlockParam{Text: m.Text()}
			if m.Cacheable {
				block.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			system = append(system, block)
		case message.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks(m)...))
		default:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Kind {
				case message.PartText:
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				case message.PartImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MIMEType,
						base64.StdEncoding.EncodeToString(part.Image.Data)))
				case message.PartToolResult:
					blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.CallID,
						part.ToolResult.Content, part.ToolResult.IsError))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens == 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(llmconfig.ModelName(req.Model)),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  messages,
	}

	switch {
	case req.Params.Thinking.Enabled():
		budget := req.Params.Thinking.BudgetTokens
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(budget)},
		}
		// max_tokens must exceed the thinking budget
		if maxTokens <= budget {
			params.MaxTokens = int64(budget + provider.DefaultMaxTokens)
		}
	case req.Params.ReasoningEffort != "":
		params.OutputConfig = anthropic.OutputConfigParam{Effort: anthropic.OutputConfigEffort(req.Params.ReasoningEffort)}
	}
	// temperature is fixed while extended thinking is on
	if req.Params.Temperature != nil && !req.Params.Thinking.Enabled() {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}

	var reqOpts []option.RequestOption
	if len(req.Params.Tools) > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("tools", req.Params.Tools))
	}
	if req.Params.ToolChoice != nil {
		reqOpts = append(reqOpts, option.WithJSONSet("tool_choice", req.Params.ToolChoice))
	}
	return params, reqOpts
}

// assistantBlocks replays an assistant turn. Tool calls become tool_use
// blocks so that tool_result blocks on the next user turn have a match.
func assistantBlocks(m message.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if text := m.Text(); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, call := range m.ToolCalls() {
		input := map[string]any{}
		if call.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Arguments), &input)
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return blocks
}

func (p *ClaudeProvider) mapResponse(msg *anthropic.Message) (*provider.Response, error) {
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return nil, errors.Wrapf(provider.ErrTokenLimit, "anthropic model %s", msg.Model)
	}

	resp := &provider.Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     p.Name(),
		FinishReason: string(msg.StopReason),
		Usage: provider.Usage{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CachedTokens:        msg.Usage.CacheReadInputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
		},
		CostKind: provider.CostAnthropic,
		Raw:      msg,
		RawJSON:  msg.RawJSON(),
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

func (p *ClaudeProvider) Name() string {
	return "anthropic"
}

func (p *ClaudeProvider) Family() llmconfig.Family { return llmconfig.FamilyAnthropic }
