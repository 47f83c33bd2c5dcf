package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/message"
)

// ErrTokenLimit is returned when the provider stopped generating because the
// output token limit was hit, leaving a truncated reply.
var ErrTokenLimit = errors.New("provider: output truncated by token limit")

// Request is a provider-neutral completion request.
type Request struct {
	Model    string
	Messages []message.Message
	Params   Params
	// CachedContent references a server-side context cache (Gemini only).
	CachedContent string
}

// Params are the tunable generation parameters after defaults, caching and
// reasoning-budget injection have been applied.
type Params struct {
	MaxTokens       int
	Temperature     *float64
	ReasoningEffort string
	Thinking        *llmconfig.Thinking
	// Tools are native tool definitions passed through verbatim.
	Tools      []map[string]any
	ToolChoice any
}

// Clone returns a deep copy safe to mutate.
func (p Params) Clone() Params {
	out := p
	if p.Temperature != nil {
		t := *p.Temperature
		out.Temperature = &t
	}
	if p.Thinking != nil {
		th := *p.Thinking
		out.Thinking = &th
	}
	if p.Tools != nil {
		out.Tools = make([]map[string]any, len(p.Tools))
		for i, tool := range p.Tools {
			cp := make(map[string]any, len(tool))
			for k, v := range tool {
				cp[k] = v
			}
			out.Tools[i] = cp
		}
	}
	return out
}

// CostKind selects how a response is priced.
type CostKind int

const (
	// CostGeneric prices from the per-model table.
	CostGeneric CostKind = iota
	// CostAnthropic prices with the per-token-type Anthropic formula.
	CostAnthropic
	// CostZero is used where no pricing data exists yet.
	CostZero
)

// Usage is the normalized token accounting of one call.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	ReasoningTokens     int64
	CachedTokens        int64
	CacheCreationTokens int64
}

// ToolCall is a native tool invocation requested by the model.
type ToolCall = message.ToolCall

// Response is the normalized provider response every adapter produces.
type Response struct {
	ID           string
	Model        string
	Provider     string
	Text         string
	FinishReason string
	ToolCalls    []ToolCall
	Usage        Usage
	CostKind     CostKind
	// Raw is the native SDK response object.
	Raw any
	// RawJSON is the provider payload as received, when available.
	RawJSON   string
	LatencyMs int64
}

// Provider sends a request to one backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	Family() llmconfig.Family
}

// APIError is the adapter-neutral form of an upstream HTTP failure.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// DefaultMaxTokens is used when neither the config nor the call sets one.
const DefaultMaxTokens = 4096
