package proxy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/modelgate/internal/auth"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/message"
)

// Handler exposes the dispatch core over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	callers    *CallerRegistry
	tracer     trace.Tracer
}

func NewHandler(dispatcher *Dispatcher, callers *CallerRegistry, tracer trace.Tracer) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		callers:    callers,
		tracer:     tracer,
	}
}

type toolResultBody struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

type invokeRequest struct {
	Prompt      string   `json:"prompt"`
	PromptName  string   `json:"prompt_name"`
	Images      []string `json:"images"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	Raw         bool     `json:"raw"`

	RunID         string            `json:"run_id"`
	StepID        string            `json:"step_id"`
	ThoughtID     string            `json:"thought_id"`
	HashedHrefMap map[string]string `json:"hashed_href_map"`
	StaticPrompt  string            `json:"static_prompt"`
	CacheKey      string            `json:"cache_key"`

	ReasoningBudgets map[string]int `json:"reasoning_budgets"`
	CacheablePrompts []string       `json:"cacheable_prompts"`

	// Stateful continues the run's conversation.
	Stateful     bool             `json:"stateful"`
	ToolResults  []toolResultBody `json:"tool_results"`
	WindowWidth  int              `json:"window_width"`
	WindowHeight int              `json:"window_height"`
}

type invokeResponse struct {
	ID       string          `json:"id"`
	LLMKey   string          `json:"llm_key"`
	Model    string          `json:"model"`
	Provider string          `json:"provider"`
	Parsed   map[string]any  `json:"parsed,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Stats    CallStats       `json:"stats"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	e, ok := llmerr.From(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusBadGateway
	switch e.Kind() {
	case llmerr.KindUnknownConfig:
		status = http.StatusNotFound
	case llmerr.KindContextWindowExceeded:
		status = http.StatusRequestEntityTooLarge
	case llmerr.KindCancelled:
		status = 499
	case llmerr.KindInvalidConfig:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"error":     e.Error(),
		"kind":      e.Kind(),
		"retryable": e.Retryable(),
	})
}

// HandleInvoke serves POST /v1/invoke/{llmKey}.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	organizationID := auth.GetOrganizationID(ctx)
	if organizationID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var body invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Stateful && body.RunID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run_id is required for stateful calls"})
		return
	}

	images := make([]message.Image, 0, len(body.Images))
	for _, encoded := range body.Images {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "images must be base64 encoded"})
			return
		}
		images = append(images, message.Image{Data: data})
	}

	llmKey := chi.URLParam(r, "llmKey")
	ctx, span := h.tracer.Start(ctx, "proxy.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", organizationID),
		attribute.String("llm_key", llmKey),
		attribute.String("run_id", body.RunID),
	)

	ctx = WithCallContext(ctx, &CallContext{
		RunID:          body.RunID,
		StepID:         body.StepID,
		ThoughtID:      body.ThoughtID,
		OrganizationID: organizationID,
		HrefMap:        message.HrefMap(body.HashedHrefMap),
		CacheKey:       body.CacheKey,
		StaticPrompt:   body.StaticPrompt,
	})
	if len(body.ReasoningBudgets) > 0 || len(body.CacheablePrompts) > 0 {
		cacheable := make(map[string]bool, len(body.CacheablePrompts))
		for _, name := range body.CacheablePrompts {
			cacheable[name] = true
		}
		ctx = WithPolicy(ctx, &Policy{ReasoningBudgets: body.ReasoningBudgets, CacheablePrompts: cacheable})
	}

	req := CallRequest{
		Prompt:      body.Prompt,
		PromptName:  body.PromptName,
		Images:      images,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		Raw:         body.Raw,
	}

	var (
		result *Result
		err    error
	)
	if body.Stateful {
		var caller *Caller
		caller, err = h.caller(organizationID, body.RunID, llmKey)
		if err == nil {
			if body.WindowWidth > 0 && body.WindowHeight > 0 {
				caller.SetWindowDimension(body.WindowWidth, body.WindowHeight)
			}
			for _, tr := range body.ToolResults {
				caller.AddToolResult(message.ToolResult{CallID: tr.CallID, Name: tr.Name, Content: tr.Content, IsError: tr.IsError})
			}
			result, err = caller.Call(ctx, req)
		}
	} else {
		var handler *LLMHandler
		handler, err = h.dispatcher.HandlerFor(llmKey)
		if err == nil {
			result, err = handler.Call(ctx, req)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := invokeResponse{
		ID:       result.Response.ID,
		LLMKey:   llmKey,
		Model:    result.Response.Model,
		Provider: result.Response.Provider,
		Parsed:   result.Parsed,
		Stats:    result.Stats,
	}
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if body.Raw {
		resp.Raw = rawPayload(result.Response)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) caller(organizationID, runID, llmKey string) (*Caller, error) {
	c, err := h.callers.GetOrCreate(organizationID, runID, func() (*Caller, error) {
		return h.dispatcher.NewCaller(llmKey)
	})
	if err != nil {
		return nil, err
	}
	if c.cfg.LLMKey() != llmKey {
		return nil, llmerr.New(llmerr.KindInvalidConfig, "run "+runID+" is bound to "+c.cfg.LLMKey())
	}
	return c, nil
}

// HandleClearRun serves DELETE /v1/runs/{runID}.
func (h *Handler) HandleClearRun(w http.ResponseWriter, r *http.Request) {
	organizationID := auth.GetOrganizationID(r.Context())
	if organizationID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if !h.callers.ClearOwned(organizationID, chi.URLParam(r, "runID")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrRunNotFound.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListModels serves GET /v1/models.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	type model struct {
		Key          string `json:"llm_key"`
		Model        string `json:"model"`
		RouterBacked bool   `json:"router_backed"`
	}
	keys := h.dispatcher.registry.Keys()
	out := make([]model, 0, len(keys))
	for _, key := range keys {
		cfg, err := h.dispatcher.registry.Get(key)
		if err != nil {
			continue
		}
		routed, _ := h.dispatcher.registry.IsRouterBacked(key)
		out = append(out, model{Key: key, Model: cfg.PrimaryModel(), RouterBacked: routed})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}
