package billing

import (
	"context"
	"time"

	"github.com/vnmchuo/modelgate/internal/provider"
)

// StatsDelta is the incremental cost and token usage of one call. It is
// added to a step or thought record, never written as a total.
type StatsDelta struct {
	Cost            float64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
}

// DeltaFrom builds a StatsDelta from normalized usage and a computed cost.
func DeltaFrom(u provider.Usage, cost float64) StatsDelta {
	return StatsDelta{
		Cost:            cost,
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		ReasoningTokens: u.ReasoningTokens,
		CachedTokens:    u.CachedTokens,
	}
}

// IsZero reports whether the delta would not change a record.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// CallLog is a per-call audit row.
type CallLog struct {
	ID             string
	OrganizationID string
	RunID          string
	LLMKey         string
	Provider       string
	Model          string
	PromptName     string
	InputTokens    int64
	OutputTokens   int64
	CostUSD        float64
	LatencyMs      int64
	CreatedAt      time.Time
}

// Store persists per-call deltas.
type Store interface {
	IncrementStep(ctx context.Context, stepID, organizationID string, delta StatsDelta) error
	IncrementThought(ctx context.Context, thoughtID, organizationID string, delta StatsDelta) error
	LogCall(ctx context.Context, log *CallLog) error
}

// NopStore discards everything; used when no database is configured.
type NopStore struct{}

func (NopStore) IncrementStep(context.Context, string, string, StatsDelta) error    { return nil }
func (NopStore) IncrementThought(context.Context, string, string, StatsDelta) error { return nil }
func (NopStore) LogCall(context.Context, *CallLog) error                            { return nil }
