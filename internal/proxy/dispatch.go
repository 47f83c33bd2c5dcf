// Package proxy is the dispatch core of the gateway: it resolves a logical
// model key, assembles the provider request (caching, reasoning budgets,
// assistant priming), sends it directly or through a deployment router and
// turns the reply into accounted, parsed output.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/modelgate/internal/artifact"
	"github.com/vnmchuo/modelgate/internal/billing"
	"github.com/vnmchuo/modelgate/internal/cache"
	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
	"github.com/vnmchuo/modelgate/internal/provider/factory"
	"github.com/vnmchuo/modelgate/internal/telemetry"
	"github.com/vnmchuo/modelgate/pkg/logger"
	"github.com/vnmchuo/modelgate/pkg/ratelimit"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 180 * time.Second

// DefaultCacheTTL is the lifetime of server-side context caches.
const DefaultCacheTTL = time.Hour

// CallRequest is one model invocation.
type CallRequest struct {
	Prompt     string
	PromptName string
	Images     []message.Image

	// Overrides of the config defaults; zero values keep the default.
	MaxTokens   int
	Temperature *float64
	Tools       []map[string]any
	ToolChoice  any

	// Raw skips parsing and returns the provider payload only.
	Raw bool
}

// CallStats is the normalized accounting of one call.
type CallStats struct {
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	ReasoningTokens int64   `json:"reasoning_tokens"`
	CachedTokens    int64   `json:"cached_tokens"`
	Cost            float64 `json:"cost"`
}

// Result of a call. Parsed is nil when the raw payload was requested.
type Result struct {
	Parsed   map[string]any
	Response *provider.Response
	Stats    CallStats
}

// Dispatcher runs the shared call routine behind every LLMHandler and
// Caller.
type Dispatcher struct {
	registry  *llmconfig.Registry
	providers ProviderSource
	artifacts artifact.Sink
	stats     billing.Store
	caches    *cache.Manager
	cacheTTL  time.Duration
	limiter   *ratelimit.Limiter
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	timeout   time.Duration
	viewport  message.Resolution
	scaling   bool
	log       *slog.Logger
	cost      func(*provider.Response) (float64, error)

	mu      sync.Mutex
	routers map[string]*Router
}

type Option func(*Dispatcher)

func WithArtifactSink(s artifact.Sink) Option { return func(d *Dispatcher) { d.artifacts = s } }

func WithStatsStore(s billing.Store) Option { return func(d *Dispatcher) { d.stats = s } }

// WithCacheManager enables server-side context caching for Vertex backends.
func WithCacheManager(m *cache.Manager, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.caches = m
		if ttl > 0 {
			d.cacheTTL = ttl
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) Option { return func(d *Dispatcher) { d.limiter = l } }

func WithTracer(t trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

func WithMetrics(m *telemetry.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// WithViewport sets the browser window screenshots are taken at.
func WithViewport(r message.Resolution) Option { return func(d *Dispatcher) { d.viewport = r } }

// WithScaling sets whether new Callers downsize screenshots by default.
func WithScaling(enabled bool) Option { return func(d *Dispatcher) { d.scaling = enabled } }

func NewDispatcher(registry *llmconfig.Registry, providers ProviderSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		providers: providers,
		artifacts: artifact.NopSink{},
		stats:     billing.NopStore{},
		cacheTTL:  DefaultCacheTTL,
		tracer:    noop.NewTracerProvider().Tracer("modelgate"),
		timeout:   DefaultTimeout,
		viewport:  message.DefaultViewport,
		log:       logger.NewComponentLogger("dispatch"),
		cost:      billing.Cost,
		routers:   make(map[string]*Router),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LLMHandler calls one logical model key.
type LLMHandler struct {
	d   *Dispatcher
	cfg llmconfig.Config
}

// HandlerFor resolves key into a handler, direct or router-backed.
func (d *Dispatcher) HandlerFor(key string) (*LLMHandler, error) {
	cfg, err := d.registry.Get(key)
	if err != nil {
		return nil, err
	}
	return &LLMHandler{d: d, cfg: cfg}, nil
}

// Key returns the logical key the handler is bound to.
func (h *LLMHandler) Key() string { return h.cfg.LLMKey() }

// RouterBacked reports whether calls go through a deployment router.
func (h *LLMHandler) RouterBacked() bool {
	_, ok := h.cfg.(llmconfig.RouterConfig)
	return ok
}

// Call runs one stateless invocation.
func (h *LLMHandler) Call(ctx context.Context, req CallRequest) (*Result, error) {
	res, _, err := h.d.dispatch(ctx, callSpec{cfg: h.cfg, req: req})
	return res, err
}

// callSpec parameterizes the shared routine. history and toolResults are
// only set by a Caller.
type callSpec struct {
	cfg         llmconfig.Config
	req         CallRequest
	history     []message.Message
	toolResults []message.ToolResult
}

func familyOf(cfg llmconfig.Config) llmconfig.Family {
	if pc, ok := cfg.(llmconfig.ProviderConfig); ok {
		return pc.ResolvedFamily()
	}
	if rc, ok := cfg.(llmconfig.RouterConfig); ok {
		for _, dep := range rc.GroupDeployments(rc.MainGroup) {
			return dep.ResolvedFamily()
		}
	}
	return llmconfig.FamilyOf(cfg.PrimaryModel())
}

// dispatch is the one call routine. On success it also returns the turns a
// stateful caller should commit to its history.
func (d *Dispatcher) dispatch(ctx context.Context, spec callSpec) (*Result, []message.Message, error) {
	start := time.Now()
	cfg, req := spec.cfg, spec.req
	key, model, family := cfg.LLMKey(), cfg.PrimaryModel(), familyOf(cfg)
	defaults := cfg.Defaults()
	cc := CallContextFrom(ctx)
	policy := PolicyFrom(ctx)
	link := linkOf(cc)

	ctx, span := d.tracer.Start(ctx, "proxy.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm_key", key),
		attribute.String("model", model),
		attribute.String("prompt_name", req.PromptName),
	)

	log := d.log.With("llm_key", key, "model", model, "prompt_name", req.PromptName)
	errOpts := []llmerr.Option{llmerr.WithLLMKey(key), llmerr.WithModel(model), llmerr.WithPrompt(req.PromptName)}

	if cc != nil && len(cc.HrefMap) > 0 {
		d.recordJSON(ctx, artifact.TypeHashedHrefMap, link, cc.HrefMap)
	}
	d.record(ctx, artifact.New(artifact.TypeLLMPrompt, link, []byte(req.Prompt)))
	for _, img := range req.Images {
		d.record(ctx, artifact.New(artifact.TypeScreenshotLLM, link, img.Data))
	}

	var msgs []message.Message
	var cachedContent string
	if cc != nil && cc.StaticPrompt != "" && policy.cacheable(req.PromptName) {
		cachedContent, msgs = d.applyCache(ctx, log, cc, model, family)
	}
	msgs = append(msgs, spec.history...)
	userTurn := message.BuildUserTurn(req.Prompt, req.Images, spec.toolResults...)
	msgs = append(msgs, userTurn)
	if defaults.AddAssistantPrefix {
		msgs = append(msgs, message.AssistantPrefix())
	}

	params := d.params(cfg, req)
	if budget, ok := policy.budget(req.PromptName); ok {
		applyBudget(log, &params, model, family, budget)
	}

	preq := &provider.Request{Model: model, Messages: msgs, Params: params, CachedContent: cachedContent}
	d.recordJSON(ctx, artifact.TypeLLMRequest, link, requestDump(preq))

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	resp, err := d.complete(callCtx, cfg, preq)
	if err != nil {
		return nil, nil, d.fail(ctx, span, log, cc, key, start, classify(err, errOpts...))
	}
	d.record(ctx, artifact.New(artifact.TypeLLMResponse, link, rawPayload(resp)))

	cost, err := d.safeCost(resp)
	if err != nil {
		log.Warn("failed to compute call cost", "error", err)
		cost = 0
	}
	stats := CallStats{
		InputTokens:     resp.Usage.InputTokens,
		OutputTokens:    resp.Usage.OutputTokens,
		ReasoningTokens: resp.Usage.ReasoningTokens,
		CachedTokens:    resp.Usage.CachedTokens,
		Cost:            cost,
	}
	d.persistStats(ctx, log, cc, key, req.PromptName, resp, cost, time.Since(start))

	replyText := resp.Text
	primedText := replyText != "" || len(resp.ToolCalls) == 0
	if defaults.AddAssistantPrefix && primedText && (len(replyText) == 0 || replyText[0] != '{') {
		replyText = "{" + replyText
	}
	commit := []message.Message{userTurn, message.Assistant(replyText, resp.ToolCalls...)}
	result := &Result{Response: resp, Stats: stats}

	if !req.Raw {
		parsed, err := message.ParseJSON(resp.Text, defaults.AddAssistantPrefix)
		if err != nil {
			return nil, nil, d.fail(ctx, span, log, cc, key, start, classify(err, errOpts...))
		}
		d.recordJSON(ctx, artifact.TypeLLMResponseParsed, link, parsed)
		if cc != nil && len(cc.HrefMap) > 0 {
			if rendered, ok := cc.HrefMap.Render(parsed).(map[string]any); ok {
				parsed = rendered
			}
			d.recordJSON(ctx, artifact.TypeLLMResponseRendered, link, parsed)
		}
		result.Parsed = parsed
	}

	duration := time.Since(start)
	log.Info("llm call finished", "duration", duration, "input_tokens", stats.InputTokens,
		"output_tokens", stats.OutputTokens, "cost", stats.Cost)
	d.metrics.Observe(telemetry.CallObservation{
		LLMKey:          key,
		Outcome:         outcome(nil),
		Duration:        duration,
		Cost:            cost,
		InputTokens:     stats.InputTokens,
		OutputTokens:    stats.OutputTokens,
		ReasoningTokens: stats.ReasoningTokens,
		CachedTokens:    stats.CachedTokens,
	})
	return result, commit, nil
}

// safeCost prices resp. A pricing panic is reported as an error.
func (d *Dispatcher) safeCost(resp *provider.Response) (cost float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			cost, err = 0, fmt.Errorf("cost computation panicked: %v", r)
		}
	}()
	return d.cost(resp)
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, log *slog.Logger, cc *CallContext, key string, start time.Time, err *llmerr.Error) error {
	duration := time.Since(start)
	attrs := []any{"duration", duration, "kind", err.Kind(), "error", err}
	if err.Kind() == llmerr.KindCancelled && cc != nil {
		attrs = append(attrs, "step_id", cc.StepID, "thought_id", cc.ThoughtID)
	}
	log.Error("llm call failed", attrs...)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind()))
	d.metrics.Observe(telemetry.CallObservation{LLMKey: key, Outcome: outcome(err), Duration: duration})
	return err
}

func (d *Dispatcher) complete(ctx context.Context, cfg llmconfig.Config, req *provider.Request) (*provider.Response, error) {
	switch c := cfg.(type) {
	case llmconfig.RouterConfig:
		return d.router(c).Complete(ctx, req)
	case llmconfig.ProviderConfig:
		p, err := d.providers.Provider(ctx, factory.Target{
			Name:   c.Key,
			Model:  c.Model,
			Family: c.Family,
			Params: c.Params,
		})
		if err != nil {
			return nil, llmerr.Wrap(llmerr.KindFatalProvider, err, "provider unavailable")
		}
		return p.Complete(ctx, req)
	default:
		return nil, llmerr.New(llmerr.KindInvalidConfig, fmt.Sprintf("unsupported config type %T", cfg))
	}
}

func (d *Dispatcher) router(cfg llmconfig.RouterConfig) *Router {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routers[cfg.Key]
	if !ok {
		r = NewRouter(cfg, d.providers, d.limiter)
		d.routers[cfg.Key] = r
	}
	return r
}

// params merges call overrides over config defaults.
func (d *Dispatcher) params(cfg llmconfig.Config, req CallRequest) provider.Params {
	defaults := cfg.Defaults()
	p := provider.Params{
		MaxTokens:       defaults.MaxTokens,
		ReasoningEffort: defaults.ReasoningEffort,
		Tools:           req.Tools,
		ToolChoice:      req.ToolChoice,
	}
	if defaults.Temperature != nil {
		t := *defaults.Temperature
		p.Temperature = &t
	}
	if pc, ok := cfg.(llmconfig.ProviderConfig); ok && pc.Params.Thinking != nil {
		th := *pc.Params.Thinking
		p.Thinking = &th
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		p.Temperature = req.Temperature
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = provider.DefaultMaxTokens
	}
	return p
}

// applyBudget rewrites the reasoning parameters for a prompt budget.
func applyBudget(log *slog.Logger, p *provider.Params, model string, family llmconfig.Family, budget int) {
	if !llmconfig.SupportsReasoning(model) {
		log.Info("model does not support reasoning, skipping budget", "budget", budget)
		return
	}
	switch family {
	case llmconfig.FamilyGemini:
		p.ReasoningEffort = ""
		p.Thinking = &llmconfig.Thinking{Type: "enabled", BudgetTokens: budget}
	case llmconfig.FamilyAnthropic:
		if p.ReasoningEffort != "" {
			p.ReasoningEffort = "low"
			p.Thinking = nil
		} else {
			p.Thinking = &llmconfig.Thinking{Type: "enabled", BudgetTokens: budget}
		}
	default:
		p.ReasoningEffort = "low"
		p.Thinking = nil
	}
}

// applyCache returns the cached-content handle for Vertex backends, or the
// leading system message for families that cache inline. Cache creation
// failures fall back to sending the static content uncached.
func (d *Dispatcher) applyCache(ctx context.Context, log *slog.Logger, cc *CallContext, model string, family llmconfig.Family) (string, []message.Message) {
	if family == llmconfig.FamilyGemini {
		if d.caches != nil && llmconfig.IsVertex(model) {
			cacheKey := cc.CacheKey
			if cacheKey == "" {
				cacheKey = cc.RunID + ":" + llmconfig.ModelName(model)
			}
			entry, err := d.caches.CreateOrReuse(ctx, model, cc.StaticPrompt, cacheKey, d.cacheTTL)
			if err == nil {
				return entry.Name, nil
			}
			log.Warn("failed to create context cache, sending content inline", "cache_key", cacheKey, "error", err)
		}
		return "", []message.Message{message.System(cc.StaticPrompt)}
	}
	if llmconfig.SupportsInlineCaching(family) {
		return "", []message.Message{message.CachedSystem(cc.StaticPrompt)}
	}
	return "", []message.Message{message.System(cc.StaticPrompt)}
}

func (d *Dispatcher) persistStats(ctx context.Context, log *slog.Logger, cc *CallContext, key, prompt string, resp *provider.Response, cost float64, elapsed time.Duration) {
	if cc == nil {
		return
	}
	delta := billing.DeltaFrom(resp.Usage, cost)
	if cc.StepID != "" {
		if err := d.stats.IncrementStep(ctx, cc.StepID, cc.OrganizationID, delta); err != nil {
			log.Error("failed to update step stats", "step_id", cc.StepID, "error", err)
		}
	}
	if cc.ThoughtID != "" {
		if err := d.stats.IncrementThought(ctx, cc.ThoughtID, cc.OrganizationID, delta); err != nil {
			log.Error("failed to update thought stats", "thought_id", cc.ThoughtID, "error", err)
		}
	}
	if cc.OrganizationID == "" {
		return
	}
	err := d.stats.LogCall(ctx, &billing.CallLog{
		OrganizationID: cc.OrganizationID,
		RunID:          cc.RunID,
		LLMKey:         key,
		Provider:       resp.Provider,
		Model:          resp.Model,
		PromptName:     prompt,
		InputTokens:    resp.Usage.InputTokens,
		OutputTokens:   resp.Usage.OutputTokens,
		CostUSD:        cost,
		LatencyMs:      elapsed.Milliseconds(),
	})
	if err != nil {
		log.Error("failed to log llm call", "error", err)
	}
}

func linkOf(cc *CallContext) artifact.Link {
	if cc == nil {
		return artifact.Link{}
	}
	return artifact.Link{RunID: cc.RunID, StepID: cc.StepID, ThoughtID: cc.ThoughtID, OrganizationID: cc.OrganizationID}
}

func (d *Dispatcher) record(ctx context.Context, a artifact.Artifact) {
	if err := d.artifacts.Create(ctx, a); err != nil {
		d.log.Warn("failed to record artifact", "type", a.Type, "error", err)
	}
}

func (d *Dispatcher) recordJSON(ctx context.Context, t artifact.Type, link artifact.Link, v any) {
	a, err := artifact.NewJSON(t, link, v)
	if err != nil {
		d.log.Warn("failed to encode artifact", "type", t, "error", err)
		return
	}
	d.record(ctx, a)
}

type messageDump struct {
	Role      message.Role `json:"role"`
	Content   string       `json:"content,omitempty"`
	Images    int          `json:"images,omitempty"`
	ToolCalls int          `json:"tool_calls,omitempty"`
	Cacheable bool         `json:"cacheable,omitempty"`
}

type requestEnvelope struct {
	Model         string          `json:"model"`
	Messages      []messageDump   `json:"messages"`
	Params        provider.Params `json:"params"`
	CachedContent string          `json:"cached_content,omitempty"`
}

// requestDump is the request artifact; image bytes are recorded separately.
func requestDump(req *provider.Request) requestEnvelope {
	out := requestEnvelope{Model: req.Model, Params: req.Params, CachedContent: req.CachedContent}
	for _, m := range req.Messages {
		dump := messageDump{Role: m.Role, Content: m.Text(), Cacheable: m.Cacheable, ToolCalls: len(m.ToolCalls())}
		for _, p := range m.Parts {
			if p.Kind == message.PartImage {
				dump.Images++
			}
		}
		out.Messages = append(out.Messages, dump)
	}
	return out
}

func rawPayload(resp *provider.Response) []byte {
	if resp.RawJSON != "" {
		return []byte(resp.RawJSON)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return raw
}
