// Package artifact records the blobs produced along one model call: the
// masked href map, the prompt and screenshots, the assembled request and the
// raw, parsed and rendered responses. The gateway only ever writes them.
package artifact

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeHashedHrefMap       Type = "hashed_href_map"
	TypeLLMPrompt           Type = "llm_prompt"
	TypeScreenshotLLM       Type = "screenshot_llm"
	TypeLLMRequest          Type = "llm_request"
	TypeLLMResponse         Type = "llm_response"
	TypeLLMResponseParsed   Type = "llm_response_parsed"
	TypeLLMResponseRendered Type = "llm_response_rendered"
)

// Link ties an artifact to the run, step or thought it was produced for.
// Every field is optional.
type Link struct {
	RunID          string `json:"run_id,omitempty"`
	StepID         string `json:"step_id,omitempty"`
	ThoughtID      string `json:"thought_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type Artifact struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Link      Link      `json:"link"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds an artifact with a fresh id.
func New(t Type, link Link, data []byte) Artifact {
	return Artifact{
		ID:        "a_" + uuid.NewString(),
		Type:      t,
		Link:      link,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// NewJSON encodes v and wraps it in an artifact.
func NewJSON(t Type, link Link, v any) (Artifact, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Artifact{}, err
	}
	return New(t, link, data), nil
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis.
func (a Artifact) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis.
func (a *Artifact) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Sink interface {
	Create(ctx context.Context, a Artifact) error
}

// NopSink drops every artifact.
type NopSink struct{}

func (NopSink) Create(context.Context, Artifact) error { return nil }
