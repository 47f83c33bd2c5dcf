// Package llmconfig holds the logical-model configuration registry.
//
// A logical key (for example "ANTHROPIC_CLAUDE3.7_SONNET") maps to exactly one
// backend description: a single provider (ProviderConfig) or a load-balanced
// group of deployments (RouterConfig). Configs are validated against the
// credential source at registration and are read-only afterwards.
package llmconfig

import (
	"strings"
	"time"
)

// Family is the protocol family a concrete model is served by. It decides
// which dispatch path, message convention and cost formula apply.
type Family string

const (
	// FamilyOpenAI covers every OpenAI-compatible chat completions endpoint.
	FamilyOpenAI Family = "openai"
	// FamilyAnthropic is the native Anthropic Messages API.
	FamilyAnthropic Family = "anthropic"
	// FamilyGemini is the native Gemini / Vertex AI GenerateContent API.
	FamilyGemini Family = "gemini"
	// FamilyUITARS is the vision-action model family served behind a
	// streaming OpenAI-compatible endpoint.
	FamilyUITARS Family = "ui-tars"
)

// RoutingStrategy selects how a router picks among healthy deployments.
type RoutingStrategy string

const (
	StrategySimpleShuffle RoutingStrategy = "simple-shuffle"
	StrategyLeastBusy     RoutingStrategy = "least-busy"
	StrategyUsageBased    RoutingStrategy = "usage-based-routing"
	StrategyLatencyBased  RoutingStrategy = "latency-based-routing"
)

// Thinking is a provider thinking block: {type, budget_tokens}.
type Thinking struct {
	Type         string `yaml:"type" json:"type"`
	BudgetTokens int    `yaml:"budget_tokens" json:"budget_tokens"`
}

// Enabled reports whether the block asks for extended thinking.
func (t *Thinking) Enabled() bool {
	return t != nil && (t.Type == "" || t.Type == "enabled") && t.BudgetTokens > 0
}

// LiteralParams are transport parameters passed verbatim to the provider
// client. String values may reference credentials as ${NAME}; they are
// expanded from the credential source at registration.
type LiteralParams struct {
	APIKey            string            `yaml:"api_key"`
	APIBase           string            `yaml:"api_base"`
	APIVersion        string            `yaml:"api_version"`
	VertexProject     string            `yaml:"vertex_project"`
	VertexLocation    string            `yaml:"vertex_location"`
	VertexCredentials string            `yaml:"vertex_credentials"`
	Thinking          *Thinking         `yaml:"thinking"`
	Betas             []string          `yaml:"betas"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           time.Duration     `yaml:"timeout"`
}

func (p LiteralParams) clone() LiteralParams {
	out := p
	if p.Thinking != nil {
		t := *p.Thinking
		out.Thinking = &t
	}
	out.Betas = append([]string(nil), p.Betas...)
	if p.Headers != nil {
		out.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// CallDefaults are the per-call defaults shared by both config shapes.
type CallDefaults struct {
	SupportsVision bool
	// AddAssistantPrefix seeds the reply with "{" to coerce JSON-first output.
	AddAssistantPrefix bool
	MaxTokens          int
	Temperature        *float64
	ReasoningEffort    string
}

// Config is implemented by ProviderConfig and RouterConfig only.
type Config interface {
	LLMKey() string
	// PrimaryModel is the model used for capability and family decisions.
	PrimaryModel() string
	Defaults() CallDefaults
	RequiredCredentials() []string

	isConfig()
}

// ProviderConfig describes a single backend.
type ProviderConfig struct {
	Key         string
	Model       string
	Family      Family
	RequiredEnv []string
	Params      LiteralParams
	CallDefaults
}

func (c ProviderConfig) LLMKey() string                { return c.Key }
func (c ProviderConfig) PrimaryModel() string          { return c.Model }
func (c ProviderConfig) Defaults() CallDefaults        { return c.CallDefaults }
func (c ProviderConfig) RequiredCredentials() []string { return c.RequiredEnv }
func (ProviderConfig) isConfig()                       {}

// ResolvedFamily returns the explicit family or the one derived from Model.
func (c ProviderConfig) ResolvedFamily() Family {
	if c.Family != "" {
		return c.Family
	}
	return FamilyOf(c.Model)
}

// Deployment is one backend of a router group.
type Deployment struct {
	Name   string
	Group  string
	Model  string
	Family Family
	Params LiteralParams
	// RPM and TPM are optional per-deployment rate limits; 0 disables.
	RPM int
	TPM int
}

// ResolvedFamily returns the explicit family or the one derived from Model.
func (d Deployment) ResolvedFamily() Family {
	if d.Family != "" {
		return d.Family
	}
	return FamilyOf(d.Model)
}

// RouterConfig describes a load-balanced, fallback-capable backend group.
type RouterConfig struct {
	Key           string
	RequiredEnv   []string
	Deployments   []Deployment
	MainGroup     string
	FallbackGroup string
	Strategy      RoutingStrategy
	NumRetries    int
	RetryDelay    time.Duration
	// AllowedFails consecutive failures put a deployment into cooldown.
	AllowedFails int
	CooldownTime time.Duration
	CallDefaults
}

func (c RouterConfig) LLMKey() string                { return c.Key }
func (c RouterConfig) Defaults() CallDefaults        { return c.CallDefaults }
func (c RouterConfig) RequiredCredentials() []string { return c.RequiredEnv }
func (RouterConfig) isConfig()                       {}

// PrimaryModel is the model of the first deployment in the main group.
func (c RouterConfig) PrimaryModel() string {
	for _, d := range c.GroupDeployments(c.MainGroup) {
		return d.Model
	}
	return ""
}

// GroupDeployments returns the deployments belonging to group, in order.
func (c RouterConfig) GroupDeployments(group string) []Deployment {
	if group == "" {
		return nil
	}
	var out []Deployment
	for _, d := range c.Deployments {
		if d.Group == group {
			out = append(out, d)
		}
	}
	return out
}

// routePrefixes are the provider route prefixes accepted in model strings,
// e.g. "anthropic/claude-3-7-sonnet-latest".
var routePrefixes = map[string]Family{
	"openai":     FamilyOpenAI,
	"azure":      FamilyOpenAI,
	"openrouter": FamilyOpenAI,
	"groq":       FamilyOpenAI,
	"deepseek":   FamilyOpenAI,
	"xai":        FamilyOpenAI,
	"mistral":    FamilyOpenAI,
	"together":   FamilyOpenAI,
	"fireworks":  FamilyOpenAI,
	"ollama":     FamilyOpenAI,
	"anthropic":  FamilyAnthropic,
	"vertex_ai":  FamilyGemini,
	"gemini":     FamilyGemini,
	"volcengine": FamilyUITARS,
}

// SplitModel separates an optional route prefix from the provider model name.
func SplitModel(model string) (route, name string) {
	if i := strings.Index(model, "/"); i > 0 {
		if _, ok := routePrefixes[model[:i]]; ok {
			return model[:i], model[i+1:]
		}
	}
	return "", model
}

// ModelName strips the route prefix from model.
func ModelName(model string) string {
	_, name := SplitModel(model)
	return name
}

// FamilyOf derives the protocol family from a model string.
func FamilyOf(model string) Family {
	route, name := SplitModel(model)
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "ui-tars"), strings.HasPrefix(lower, "doubao-seed"):
		return FamilyUITARS
	case route == "openrouter":
		// OpenRouter serves every vendor behind the OpenAI protocol.
		return FamilyOpenAI
	}
	if f, ok := routePrefixes[route]; ok {
		return f
	}
	switch {
	case strings.HasPrefix(lower, "claude"):
		return FamilyAnthropic
	case strings.HasPrefix(lower, "gemini"):
		return FamilyGemini
	}
	return FamilyOpenAI
}

// IsVertex reports whether model is routed to Vertex AI rather than the
// public Gemini API.
func IsVertex(model string) bool {
	route, _ := SplitModel(model)
	return route == "vertex_ai"
}
