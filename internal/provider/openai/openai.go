package openai

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pkg/errors"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
)

// Options configure an OpenAI-compatible backend.
type Options struct {
	Name       string
	APIKey     string
	BaseURL    string
	APIVersion string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	name   string
	client openai.Client
}

func New(opts Options) provider.Provider {
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{name: name, client: openai.NewClient(ClientOptions(opts)...)}
}

// ClientOptions turns Options into SDK request options. Retries are left to
// the router.
func ClientOptions(opts Options) []option.RequestOption {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIVersion != "" {
		// Azure style deployments
		reqOpts = append(reqOpts,
			option.WithQuery("api-version", opts.APIVersion),
			option.WithHeader("api-key", opts.APIKey))
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
	return reqOpts
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, reqOpts := MapRequest(req)

	start := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, WrapError(p.name, err)
	}
	resp, err := MapResponse(p.name, completion)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Family() llmconfig.Family { return llmconfig.FamilyOpenAI }

// MapRequest builds chat completion params from a neutral request. Tools are
// sent as raw JSON so their shape is not constrained by the SDK types.
func MapRequest(req *provider.Request) (openai.ChatCompletionNewParams, []option.RequestOption) {
	route, model := llmconfig.SplitModel(req.Model)
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: mapMessages(req.Messages),
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens > 0 {
		if (route == "" || route == "openai") && llmconfig.SupportsReasoning(model) {
			params.MaxCompletionTokens = openai.Int(int64(maxTokens))
		} else {
			params.MaxTokens = openai.Int(int64(maxTokens))
		}
	}
	if req.Params.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.Params.ReasoningEffort)
	} else if req.Params.Temperature != nil {
		params.Temperature = openai.Float(*req.Params.Temperature)
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

func mapMessages(msgs []message.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case message.RoleAssistant:
			out = append(out, assistantMessage(m))
		default:
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, part := range m.Parts {
				switch part.Kind {
				case message.PartToolResult:
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.CallID))
				case message.PartText:
					parts = append(parts, openai.TextContentPart(part.Text))
				case message.PartImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: DataURL(*part.Image),
					}))
				}
			}
			if len(parts) > 0 {
				out = append(out, openai.UserMessage(parts))
			}
		}
	}
	return out
}

// assistantMessage replays an assistant turn with its tool calls so that the
// tool messages that follow it have a matching call id.
func assistantMessage(m message.Message) openai.ChatCompletionMessageParamUnion {
	calls := m.ToolCalls()
	if len(calls) == 0 {
		return openai.AssistantMessage(m.Text())
	}
	var assistant openai.ChatCompletionAssistantMessageParam
	if text := m.Text(); text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	for _, call := range calls {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// DataURL encodes img as a base64 data URL.
func DataURL(img message.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// MapResponse normalizes a chat completion.
func MapResponse(name string, completion *openai.ChatCompletion) (*provider.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.Errorf("%s returned no choices", name)
	}
	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		return nil, errors.Wrapf(provider.ErrTokenLimit, "%s model %s", name, completion.Model)
	}

	resp := &provider.Response{
		ID:           completion.ID,
		Model:        completion.Model,
		Provider:     name,
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: provider.Usage{
			InputTokens:     completion.Usage.PromptTokens,
			OutputTokens:    completion.Usage.CompletionTokens,
			ReasoningTokens: completion.Usage.CompletionTokensDetails.ReasoningTokens,
			CachedTokens:    completion.Usage.PromptTokensDetails.CachedTokens,
		},
		CostKind: provider.CostGeneric,
		Raw:      completion,
		RawJSON:  completion.RawJSON(),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// WrapError converts SDK failures into provider.APIError where a status is
// known.
func WrapError(name string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(apiErr.Error())
		}
		return &provider.APIError{Provider: name, StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
	return errors.Wrapf(err, "%s chat completion", name)
}
