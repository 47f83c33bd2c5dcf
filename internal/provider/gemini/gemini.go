package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cloud.google.com/go/auth"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
)

// Options configure a Gemini API or Vertex AI backend.
type Options struct {
	APIKey string
	// Vertex selects the Vertex AI backend; Project, Location and
	// Credentials are only used there.
	Vertex      bool
	Project     string
	Location    string
	Credentials *auth.Credentials
	BaseURL     string
	APIVersion  string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// GeminiProvider calls GenerateContent natively so cached-content handles
// and thinking budgets are honored.
type GeminiProvider struct {
	client *genai.Client
	vertex bool
}

// NewClient builds the genai client described by opts.
func NewClient(ctx context.Context, opts Options) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    opts.BaseURL,
			APIVersion: opts.APIVersion,
		},
	}
	if opts.Timeout > 0 {
		cfg.HTTPOptions.Timeout = &opts.Timeout
	}
	if opts.Vertex {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = opts.Project
		cfg.Location = opts.Location
		cfg.Credentials = opts.Credentials
	} else {
		cfg.Backend = genai.BackendGeminiAPI
		cfg.APIKey = opts.APIKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	return client, nil
}

func New(ctx context.Context, opts Options) (provider.Provider, error) {
	client, err := NewClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client, vertex: opts.Vertex}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	contents, cfg, err := MapRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	model := llmconfig.ModelName(req.Model)
	result, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &provider.APIError{Provider: p.Name(), StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
		}
		return nil, errors.Wrap(err, "gemini generate content")
	}

	resp, err := MapResponse(p.Name(), model, result)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

// MapRequest converts a neutral request into genai contents and config.
// System turns become the system instruction unless a cached-content handle
// is referenced, in which case the cache already carries them.
func MapRequest(req *provider.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{CachedContent: req.CachedContent}
	var contents []*genai.Content
	var system []*genai.Part

	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleSystem:
			if req.CachedContent == "" {
				system = append(system, genai.NewPartFromText(m.Text()))
			}
		case message.RoleAssistant:
			contents = append(contents, modelContent(m))
		default:
			parts := make([]*genai.Part, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Kind {
				case message.PartText:
					parts = append(parts, genai.NewPartFromText(part.Text))
				case message.PartImage:
					parts = append(parts, genai.NewPartFromBytes(part.Image.Data, part.Image.MIMEType))
				case message.PartToolResult:
					name := part.ToolResult.Name
					if name == "" {
						name = part.ToolResult.CallID
					}
					parts = append(parts, genai.NewPartFromFunctionResponse(name, map[string]any{"output": part.ToolResult.Content}))
				}
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromParts(system, genai.RoleUser)
	}

	if req.Params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	if req.Params.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Params.Temperature))
	}
	if t := req.Params.Thinking; t != nil && t.BudgetTokens > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(t.BudgetTokens))}
	}

	if len(req.Params.Tools) > 0 {
		raw, err := json.Marshal(req.Params.Tools)
		if err != nil {
			return nil, nil, errors.Wrap(err, "encode gemini tools")
		}
		if err := json.Unmarshal(raw, &cfg.Tools); err != nil {
			return nil, nil, errors.Wrap(err, "decode gemini tools")
		}
	}
	return contents, cfg, nil
}

// modelContent replays an assistant turn, tool calls as function calls.
func modelContent(m message.Message) *genai.Content {
	var parts []*genai.Part
	if text := m.Text(); text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, call := range m.ToolCalls() {
		var args map[string]any
		if call.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Arguments), &args)
		}
		part := genai.NewPartFromFunctionCall(call.Name, args)
		part.FunctionCall.ID = call.ID
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}
	return genai.NewContentFromParts(parts, genai.RoleModel)
}

// MapResponse normalizes a GenerateContent response.
func MapResponse(name, model string, result *genai.GenerateContentResponse) (*provider.Response, error) {
	if result == nil {
		return nil, errors.Errorf("%s returned no response", name)
	}
	resp := &provider.Response{
		ID:       result.ResponseID,
		Model:    model,
		Provider: name,
		CostKind: provider.CostGeneric,
		Raw:      result,
	}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if len(result.Candidates) > 0 {
		cand := result.Candidates[0]
		resp.FinishReason = string(cand.FinishReason)
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			return nil, errors.Wrapf(provider.ErrTokenLimit, "%s model %s", name, model)
		}
		resp.Text = result.Text()
		for _, fc := range result.FunctionCalls() {
			args, _ := json.Marshal(fc.Args)
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(args)})
		}
	}
	if u := result.UsageMetadata; u != nil {
		// thoughts are billed as output, as in the OpenAI usage shape
		resp.Usage = provider.Usage{
			InputTokens:     int64(u.PromptTokenCount),
			OutputTokens:    int64(u.CandidatesTokenCount + u.ThoughtsTokenCount),
			ReasoningTokens: int64(u.ThoughtsTokenCount),
			CachedTokens:    int64(u.CachedContentTokenCount),
		}
	}
	if raw, err := json.Marshal(result); err == nil {
		resp.RawJSON = string(raw)
	}
	return resp, nil
}

func (p *GeminiProvider) Name() string {
	if p.vertex {
		return "vertex_ai"
	}
	return "gemini"
}

func (p *GeminiProvider) Family() llmconfig.Family { return llmconfig.FamilyGemini }
