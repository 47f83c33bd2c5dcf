package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vnmchuo/modelgate/internal/artifact"
	"github.com/vnmchuo/modelgate/internal/billing"
	"github.com/vnmchuo/modelgate/internal/cache"
	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
	"github.com/vnmchuo/modelgate/internal/provider/factory"
	"github.com/vnmchuo/modelgate/pkg/logger"
)

// Mocks
type mockProvider struct {
	name  string
	reply func(ctx context.Context, req *provider.Request) (*provider.Response, error)

	mu       sync.Mutex
	requests []*provider.Request
}

func (m *mockProvider) Name() string             { return m.name }
func (m *mockProvider) Family() llmconfig.Family { return llmconfig.FamilyOpenAI }

func (m *mockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.reply == nil {
		return textResponse(req, `{"ok": true}`), nil
	}
	return m.reply(ctx, req)
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockProvider) last() *provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func textResponse(req *provider.Request, text string) *provider.Response {
	return &provider.Response{
		ID:       "resp_1",
		Model:    req.Model,
		Provider: "mock",
		Text:     text,
		Usage:    provider.Usage{InputTokens: 100, OutputTokens: 20, CachedTokens: 10},
		CostKind: provider.CostZero,
	}
}

func replyText(text string) func(context.Context, *provider.Request) (*provider.Response, error) {
	return func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return textResponse(req, text), nil
	}
}

func replyError(err error) func(context.Context, *provider.Request) (*provider.Response, error) {
	return func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return nil, err
	}
}

type fakeStats struct {
	mu       sync.Mutex
	steps    map[string]billing.StatsDelta
	thoughts map[string]billing.StatsDelta
	logs     []*billing.CallLog
	err      error
}

func newFakeStats() *fakeStats {
	return &fakeStats{steps: map[string]billing.StatsDelta{}, thoughts: map[string]billing.StatsDelta{}}
}

func add(a, b billing.StatsDelta) billing.StatsDelta {
	a.Cost += b.Cost
	a.InputTokens += b.InputTokens
	a.OutputTokens += b.OutputTokens
	a.ReasoningTokens += b.ReasoningTokens
	a.CachedTokens += b.CachedTokens
	return a
}

func (s *fakeStats) IncrementStep(ctx context.Context, stepID, organizationID string, delta billing.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[stepID] = add(s.steps[stepID], delta)
	return s.err
}

func (s *fakeStats) IncrementThought(ctx context.Context, thoughtID, organizationID string, delta billing.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thoughts[thoughtID] = add(s.thoughts[thoughtID], delta)
	return s.err
}

func (s *fakeStats) LogCall(ctx context.Context, log *billing.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return s.err
}

type fakeSink struct {
	mu    sync.Mutex
	types []artifact.Type
}

func (s *fakeSink) Create(ctx context.Context, a artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, a.Type)
	return nil
}

func (s *fakeSink) has(t artifact.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.types {
		if got == t {
			return true
		}
	}
	return false
}

type fakeCacheBackend struct {
	mu      sync.Mutex
	creates int
	err     error
}

func (b *fakeCacheBackend) Create(ctx context.Context, model, content string, ttl time.Duration) (cache.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return cache.Entry{}, b.err
	}
	b.creates++
	return cache.Entry{Name: "cachedContents/1", Model: model, ExpireTime: time.Now().Add(ttl)}, nil
}

func (b *fakeCacheBackend) Delete(ctx context.Context, name string) error { return nil }

// Test Suite
func newTestDispatcher(t *testing.T, cfgs []llmconfig.Config, providers map[string]provider.Provider, opts ...Option) *Dispatcher {
	t.Helper()
	reg := llmconfig.NewRegistry(llmconfig.MapEnv{})
	if err := reg.RegisterAll(cfgs...); err != nil {
		t.Fatalf("register configs: %v", err)
	}
	f := factory.New(factory.Vertex{})
	for name, p := range providers {
		f.Register(name, p)
	}
	d := NewDispatcher(reg, f, opts...)
	d.log = logger.Discard()
	return d
}

func singleProvider(t *testing.T, cfg llmconfig.ProviderConfig, p *mockProvider, opts ...Option) *Dispatcher {
	t.Helper()
	return newTestDispatcher(t, []llmconfig.Config{cfg}, map[string]provider.Provider{cfg.Key: p}, opts...)
}

func call(t *testing.T, d *Dispatcher, ctx context.Context, key string, req CallRequest) (*Result, error) {
	t.Helper()
	h, err := d.HandlerFor(key)
	if err != nil {
		t.Fatalf("HandlerFor(%s): %v", key, err)
	}
	return h.Call(ctx, req)
}

func TestHandlerFor_UnknownKey(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	_, err := d.HandlerFor("NOPE")
	if !errors.Is(err, llmerr.ErrUnknownConfig) {
		t.Errorf("Expected UnknownConfig, got %v", err)
	}
}

func TestCall_ParsesPrimedReply(t *testing.T) {
	p := &mockProvider{name: "mock", reply: replyText(`"action": "click", "element_id": 7}`)}
	cfg := llmconfig.ProviderConfig{
		Key:          "OPENAI_GPT4O",
		Model:        "gpt-4o",
		CallDefaults: llmconfig.CallDefaults{AddAssistantPrefix: true},
	}
	d := singleProvider(t, cfg, p)

	res, err := call(t, d, context.Background(), "OPENAI_GPT4O", CallRequest{Prompt: "what next?", PromptName: "extract-action"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Parsed["action"] != "click" || res.Parsed["element_id"] != float64(7) {
		t.Errorf("Unexpected parsed output %v", res.Parsed)
	}

	msgs := p.last().Messages
	if len(msgs) != 2 {
		t.Fatalf("Expected user turn and priming turn, got %d messages", len(msgs))
	}
	if msgs[0].Role != message.RoleUser || msgs[0].Text() != "what next?" {
		t.Errorf("Unexpected user turn %+v", msgs[0])
	}
	if msgs[1].Role != message.RoleAssistant || msgs[1].Text() != "{" {
		t.Errorf("Expected assistant priming turn, got %+v", msgs[1])
	}
	if p.last().Params.MaxTokens != provider.DefaultMaxTokens {
		t.Errorf("Expected default max tokens, got %d", p.last().Params.MaxTokens)
	}
}

func TestCall_ReasoningBudget(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		effort       string
		wantEffort   string
		wantThinking int
	}{
		{name: "openai reasoning model", model: "o3-mini", wantEffort: "low"},
		{name: "gemini exact budget", model: "gemini/gemini-2.5-pro", wantThinking: 2048},
		{name: "anthropic with effort", model: "anthropic/claude-3-7-sonnet-latest", effort: "high", wantEffort: "low"},
		{name: "anthropic thinking block", model: "anthropic/claude-3-7-sonnet-latest", wantThinking: 2048},
		{name: "non reasoning model", model: "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "mock"}
			cfg := llmconfig.ProviderConfig{
				Key:          "KEY",
				Model:        tt.model,
				CallDefaults: llmconfig.CallDefaults{ReasoningEffort: tt.effort},
			}
			d := singleProvider(t, cfg, p)
			ctx := WithPolicy(context.Background(), &Policy{ReasoningBudgets: map[string]int{"plan": 2048}})

			if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p", PromptName: "plan"}); err != nil {
				t.Fatalf("Call failed: %v", err)
			}
			params := p.last().Params
			wantEffort := tt.wantEffort
			if wantEffort == "" {
				wantEffort = tt.effort
			}
			if params.ReasoningEffort != wantEffort {
				t.Errorf("Expected reasoning effort %q, got %q", wantEffort, params.ReasoningEffort)
			}
			switch {
			case tt.wantThinking == 0 && params.Thinking != nil:
				t.Errorf("Expected no thinking block, got %+v", params.Thinking)
			case tt.wantThinking > 0 && (params.Thinking == nil || params.Thinking.BudgetTokens != tt.wantThinking):
				t.Errorf("Expected thinking budget %d, got %+v", tt.wantThinking, params.Thinking)
			}
		})
	}
}

func TestCall_BudgetOnlyForListedPrompt(t *testing.T) {
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "o3-mini"}, p)
	ctx := WithPolicy(context.Background(), &Policy{ReasoningBudgets: map[string]int{"plan": 2048}})

	if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p", PromptName: "other"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if p.last().Params.ReasoningEffort != "" {
		t.Errorf("Expected no reasoning effort, got %q", p.last().Params.ReasoningEffort)
	}
}

func TestCall_PersistsStats(t *testing.T) {
	p := &mockProvider{name: "mock"}
	stats := newFakeStats()
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o-mini"}, p, WithStatsStore(stats))
	ctx := WithCallContext(context.Background(), &CallContext{
		RunID:          "wr_1",
		StepID:         "stp_1",
		ThoughtID:      "ot_1",
		OrganizationID: "o_1",
	})

	for i := 0; i < 2; i++ {
		if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p", PromptName: "extract-action"}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}

	step := stats.steps["stp_1"]
	if step.InputTokens != 200 || step.OutputTokens != 40 || step.CachedTokens != 20 {
		t.Errorf("Expected step deltas to accumulate, got %+v", step)
	}
	if stats.thoughts["ot_1"] != step {
		t.Errorf("Expected thought to match step, got %+v", stats.thoughts["ot_1"])
	}
	if len(stats.logs) != 2 || stats.logs[0].OrganizationID != "o_1" || stats.logs[0].LLMKey != "KEY" {
		t.Errorf("Unexpected call logs %+v", stats.logs)
	}
}

func TestCall_StatsFailureDoesNotFailCall(t *testing.T) {
	p := &mockProvider{name: "mock"}
	stats := newFakeStats()
	stats.err = errors.New("db down")
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o-mini"}, p, WithStatsStore(stats))
	ctx := WithCallContext(context.Background(), &CallContext{StepID: "stp_1"})

	if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p"}); err != nil {
		t.Errorf("Expected stats failure to be logged only, got %v", err)
	}
}

func TestCall_CostFailureIsZero(t *testing.T) {
	p := &mockProvider{name: "mock", reply: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		resp := textResponse(req, `{"ok": true}`)
		resp.CostKind = provider.CostGeneric
		return resp, nil
	}}
	stats := newFakeStats()
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "mystery-model"}, p, WithStatsStore(stats))
	ctx := WithCallContext(context.Background(), &CallContext{StepID: "stp_1"})

	res, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Stats.Cost != 0 {
		t.Errorf("Expected zero cost for unpriced model, got %v", res.Stats.Cost)
	}
	if res.Stats.InputTokens != 100 || stats.steps["stp_1"].InputTokens != 100 {
		t.Errorf("Expected tokens to be recorded, got %+v", res.Stats)
	}
}

func TestCall_CostPanicIsZero(t *testing.T) {
	stats := newFakeStats()
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, &mockProvider{name: "mock"}, WithStatsStore(stats))
	d.cost = func(*provider.Response) (float64, error) { panic("bad pricing table") }
	ctx := WithCallContext(context.Background(), &CallContext{StepID: "stp_1"})

	res, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Stats.Cost != 0 || stats.steps["stp_1"].InputTokens != 100 {
		t.Errorf("Expected zero cost and recorded tokens, got %+v", res.Stats)
	}
}

func TestCall_PricedModel(t *testing.T) {
	p := &mockProvider{name: "mock", reply: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		resp := textResponse(req, `{"ok": true}`)
		resp.CostKind = provider.CostGeneric
		return resp, nil
	}}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o-mini"}, p)

	res, err := call(t, d, context.Background(), "KEY", CallRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Stats.Cost <= 0 {
		t.Errorf("Expected positive cost, got %v", res.Stats.Cost)
	}
}

func TestCall_RendersHrefs(t *testing.T) {
	hrefs := message.HrefMap{}
	token := hrefs.Add("https://example.com/login")
	p := &mockProvider{name: "mock", reply: replyText(`{"url": "` + token + `"}`)}
	sink := &fakeSink{}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p, WithArtifactSink(sink))
	ctx := WithCallContext(context.Background(), &CallContext{RunID: "wr_1", HrefMap: hrefs})

	res, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "go to " + token, PromptName: "navigate"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Parsed["url"] != "https://example.com/login" {
		t.Errorf("Expected rendered url, got %v", res.Parsed["url"])
	}
	for _, typ := range []artifact.Type{
		artifact.TypeHashedHrefMap,
		artifact.TypeLLMPrompt,
		artifact.TypeLLMRequest,
		artifact.TypeLLMResponse,
		artifact.TypeLLMResponseParsed,
		artifact.TypeLLMResponseRendered,
	} {
		if !sink.has(typ) {
			t.Errorf("Expected %s artifact", typ)
		}
	}
}

func TestCall_RawSkipsParsing(t *testing.T) {
	p := &mockProvider{name: "mock", reply: replyText("plain prose, no json")}
	sink := &fakeSink{}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p, WithArtifactSink(sink))

	res, err := call(t, d, context.Background(), "KEY", CallRequest{Prompt: "p", Raw: true})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Parsed != nil || res.Response.Text != "plain prose, no json" {
		t.Errorf("Expected raw response only, got %+v", res)
	}
	if sink.has(artifact.TypeLLMResponseParsed) {
		t.Error("Expected no parsed artifact for raw calls")
	}
}

func TestCall_ResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{name: "empty", text: "  ", want: llmerr.ErrEmptyResponse},
		{name: "not json", text: "I cannot help with that", want: llmerr.ErrInvalidResponseFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "mock", reply: replyText(tt.text)}
			d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p)

			_, err := call(t, d, context.Background(), "KEY", CallRequest{Prompt: "p", PromptName: "extract"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			e, _ := llmerr.From(err)
			if e.LLMKey != "KEY" || e.PromptName != "extract" {
				t.Errorf("Expected error annotated with key and prompt, got %+v", e)
			}
		})
	}
}

func TestCall_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limited", err: &provider.APIError{Provider: "mock", StatusCode: 429, Message: "slow down"}, want: llmerr.ErrRetryableProvider},
		{name: "server error", err: &provider.APIError{Provider: "mock", StatusCode: 503, Message: "overloaded"}, want: llmerr.ErrRetryableProvider},
		{name: "context window", err: &provider.APIError{Provider: "mock", StatusCode: 400, Message: "This model's maximum context length is 128000 tokens"}, want: llmerr.ErrContextWindowExceeded},
		{name: "bad request", err: &provider.APIError{Provider: "mock", StatusCode: 401, Message: "invalid api key"}, want: llmerr.ErrFatalProvider},
		{name: "truncated", err: provider.ErrTokenLimit, want: llmerr.ErrRetryableProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "mock", reply: replyError(tt.err)}
			d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p)

			_, err := call(t, d, context.Background(), "KEY", CallRequest{Prompt: "p"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCall_Cancelled(t *testing.T) {
	started := make(chan struct{})
	p := &mockProvider{name: "mock", reply: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p)

	ctx, cancel := context.WithCancel(WithCallContext(context.Background(), &CallContext{StepID: "stp_1", ThoughtID: "ot_1"}))
	go func() {
		<-started
		cancel()
	}()

	_, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p"})
	if !errors.Is(err, llmerr.ErrCancelled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if llmerr.Retryable(err) {
		t.Error("Expected cancellation to be non-retryable")
	}
}

func TestCall_InlineCachingOnlyForCacheablePrompts(t *testing.T) {
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "anthropic/claude-3-5-sonnet-latest"}, p)
	ctx := WithCallContext(context.Background(), &CallContext{RunID: "wr_1", StaticPrompt: "static page context"})
	ctx = WithPolicy(ctx, &Policy{CacheablePrompts: map[string]bool{"extract-action": true}})

	if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p", PromptName: "extract-action"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	first := p.last().Messages[0]
	if first.Role != message.RoleSystem || !first.Cacheable || first.Text() != "static page context" {
		t.Errorf("Expected cacheable system message, got %+v", first)
	}

	if _, err := call(t, d, ctx, "KEY", CallRequest{Prompt: "p", PromptName: "summarize"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if first := p.last().Messages[0]; first.Role != message.RoleUser {
		t.Errorf("Expected no static content for non-cacheable prompt, got %+v", first)
	}
}

func TestCall_VertexContextCache(t *testing.T) {
	backend := &fakeCacheBackend{}
	manager := cache.NewManager(backend, cache.WithLogger(logger.Discard()))
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "VERTEX_GEMINI", Model: "vertex_ai/gemini-2.5-flash"}, p,
		WithCacheManager(manager, time.Hour))
	ctx := WithCallContext(context.Background(), &CallContext{RunID: "wr_1", StaticPrompt: "static page context"})
	ctx = WithPolicy(ctx, &Policy{CacheablePrompts: map[string]bool{"extract-action": true}})

	for i := 0; i < 2; i++ {
		if _, err := call(t, d, ctx, "VERTEX_GEMINI", CallRequest{Prompt: "p", PromptName: "extract-action"}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}
	if backend.creates != 1 {
		t.Errorf("Expected one cache create, got %d", backend.creates)
	}
	req := p.last()
	if req.CachedContent != "cachedContents/1" {
		t.Errorf("Expected cached content handle, got %q", req.CachedContent)
	}
	if req.Messages[0].Role != message.RoleUser {
		t.Errorf("Expected static content to be omitted, got %+v", req.Messages[0])
	}
}

func TestCall_VertexCacheFailureSendsContentInline(t *testing.T) {
	backend := &fakeCacheBackend{err: errors.New("quota exceeded")}
	manager := cache.NewManager(backend, cache.WithLogger(logger.Discard()))
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "VERTEX_GEMINI", Model: "vertex_ai/gemini-2.5-flash"}, p,
		WithCacheManager(manager, time.Hour))
	ctx := WithCallContext(context.Background(), &CallContext{RunID: "wr_1", StaticPrompt: "static page context"})
	ctx = WithPolicy(ctx, &Policy{CacheablePrompts: map[string]bool{"extract-action": true}})

	if _, err := call(t, d, ctx, "VERTEX_GEMINI", CallRequest{Prompt: "p", PromptName: "extract-action"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	req := p.last()
	if req.CachedContent != "" {
		t.Errorf("Expected no cache handle, got %q", req.CachedContent)
	}
	if first := req.Messages[0]; first.Role != message.RoleSystem || first.Cacheable {
		t.Errorf("Expected plain system message, got %+v", first)
	}
}

func TestCall_OverridesDefaults(t *testing.T) {
	temp := 0.2
	override := 0.9
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{
		Key:          "KEY",
		Model:        "gpt-4o",
		CallDefaults: llmconfig.CallDefaults{MaxTokens: 1000, Temperature: &temp},
	}, p)

	if _, err := call(t, d, context.Background(), "KEY", CallRequest{Prompt: "p", MaxTokens: 50, Temperature: &override}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	params := p.last().Params
	if params.MaxTokens != 50 || *params.Temperature != 0.9 {
		t.Errorf("Expected overrides to win, got max_tokens=%d temperature=%v", params.MaxTokens, *params.Temperature)
	}
}
