package proxy

import (
	"context"

	"github.com/vnmchuo/modelgate/internal/message"
)

// Policy is the per-run call policy. It travels on the context so that
// concurrent runs never observe each other's budgets.
type Policy struct {
	// ReasoningBudgets maps a prompt name to a thinking token budget.
	ReasoningBudgets map[string]int
	// CacheablePrompts lists the prompt names whose static content may be
	// sent as a cached leading system message.
	CacheablePrompts map[string]bool
}

type policyKey struct{}

// WithPolicy attaches p to ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

// PolicyFrom returns the policy on ctx, or nil.
func PolicyFrom(ctx context.Context) *Policy {
	p, _ := ctx.Value(policyKey{}).(*Policy)
	return p
}

func (p *Policy) budget(prompt string) (int, bool) {
	if p == nil || prompt == "" {
		return 0, false
	}
	b, ok := p.ReasoningBudgets[prompt]
	return b, ok
}

func (p *Policy) cacheable(prompt string) bool {
	return p != nil && prompt != "" && p.CacheablePrompts[prompt]
}

// CallContext links a call to the records it is accounted against.
type CallContext struct {
	RunID          string
	StepID         string
	ThoughtID      string
	OrganizationID string
	// HrefMap masks real URLs in the prompt; it is rendered back into the
	// parsed response.
	HrefMap message.HrefMap
	// CacheKey names the run's static prompt content for context caching.
	CacheKey     string
	StaticPrompt string
}

type callContextKey struct{}

// WithCallContext attaches cc to ctx.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the call context on ctx, or nil.
func CallContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey{}).(*CallContext)
	return cc
}
