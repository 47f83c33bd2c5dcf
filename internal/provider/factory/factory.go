// Package factory builds provider adapters from registry entries and keeps
// one client per logical key or deployment.
package factory

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/auth"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/vnmchuo/modelgate/internal/cache"
	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/provider"
	"github.com/vnmchuo/modelgate/internal/provider/claude"
	"github.com/vnmchuo/modelgate/internal/provider/gemini"
	oaiprovider "github.com/vnmchuo/modelgate/internal/provider/openai"
	"github.com/vnmchuo/modelgate/internal/provider/uitars"
)

// Vertex holds the process-level Vertex AI settings used when a config does
// not carry its own.
type Vertex struct {
	Project     string
	Location    string
	Credentials []byte
}

// Target is one backend to build a provider for.
type Target struct {
	// Name keys the provider cache: the logical key or the deployment name.
	Name   string
	Model  string
	Family llmconfig.Family
	Params llmconfig.LiteralParams
}

// Factory builds and caches provider adapters.
type Factory struct {
	vertex     Vertex
	timeout    time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	providers map[string]provider.Provider
	creds     *auth.Credentials
}

type Option func(*Factory)

// WithHTTPClient routes every adapter through client.
func WithHTTPClient(client *http.Client) Option { return func(f *Factory) { f.httpClient = client } }

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option { return func(f *Factory) { f.timeout = d } }

func New(vertex Vertex, opts ...Option) *Factory {
	f := &Factory{vertex: vertex, providers: make(map[string]provider.Provider)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register installs a prebuilt provider under name, replacing any cached one.
func (f *Factory) Register(name string, p provider.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[name] = p
}

// Provider returns the cached adapter for t.Name, building it on first use.
func (f *Factory) Provider(ctx context.Context, t Target) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.providers[t.Name]; ok {
		return p, nil
	}
	p, err := f.build(ctx, t)
	if err != nil {
		return nil, errors.Wrapf(err, "build provider for %s", t.Name)
	}
	f.providers[t.Name] = p
	return p, nil
}

func (f *Factory) build(ctx context.Context, t Target) (provider.Provider, error) {
	family := t.Family
	if family == "" {
		family = llmconfig.FamilyOf(t.Model)
	}
	timeout := t.Params.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}

	switch family {
	case llmconfig.FamilyAnthropic:
		return claude.New(claude.Options{
			APIKey:     t.Params.APIKey,
			BaseURL:    t.Params.APIBase,
			Betas:      t.Params.Betas,
			Headers:    t.Params.Headers,
			Timeout:    timeout,
			HTTPClient: f.httpClient,
		}), nil
	case llmconfig.FamilyGemini:
		opts, err := f.geminiOptions(t, timeout)
		if err != nil {
			return nil, err
		}
		return gemini.New(ctx, opts)
	case llmconfig.FamilyUITARS:
		return uitars.New(f.openAIOptions(t, timeout)), nil
	default:
		return oaiprovider.New(f.openAIOptions(t, timeout)), nil
	}
}

func (f *Factory) openAIOptions(t Target, timeout time.Duration) oaiprovider.Options {
	route, _ := llmconfig.SplitModel(t.Model)
	if route == "" {
		route = "openai"
	}
	return oaiprovider.Options{
		Name:       route,
		APIKey:     t.Params.APIKey,
		BaseURL:    t.Params.APIBase,
		APIVersion: t.Params.APIVersion,
		Headers:    t.Params.Headers,
		Timeout:    timeout,
		HTTPClient: f.httpClient,
	}
}

func (f *Factory) geminiOptions(t Target, timeout time.Duration) (gemini.Options, error) {
	opts := gemini.Options{
		APIKey:     t.Params.APIKey,
		BaseURL:    t.Params.APIBase,
		APIVersion: t.Params.APIVersion,
		Timeout:    timeout,
		HTTPClient: f.httpClient,
	}
	if !llmconfig.IsVertex(t.Model) && t.Params.VertexProject == "" {
		return opts, nil
	}

	opts.Vertex = true
	opts.Project = firstNonEmpty(t.Params.VertexProject, f.vertex.Project)
	opts.Location = firstNonEmpty(t.Params.VertexLocation, f.vertex.Location, "us-central1")
	creds, err := f.credentials([]byte(t.Params.VertexCredentials))
	if err != nil {
		return opts, err
	}
	opts.Credentials = creds
	return opts, nil
}

// credentials prefers the config's own service-account blob, then the
// process blob, then ambient default credentials. Shared credentials are
// built once. Callers hold f.mu.
func (f *Factory) credentials(blob []byte) (*auth.Credentials, error) {
	if len(blob) > 0 {
		return cache.NewCredentials(blob)
	}
	if f.creds != nil {
		return f.creds, nil
	}
	creds, err := cache.NewCredentials(f.vertex.Credentials)
	if err != nil {
		return nil, err
	}
	f.creds = creds
	return creds, nil
}

// VertexClient builds a genai client on the process Vertex settings, for the
// context cache backend.
func (f *Factory) VertexClient(ctx context.Context) (*genai.Client, error) {
	f.mu.Lock()
	creds, err := f.credentials(nil)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return gemini.NewClient(ctx, gemini.Options{
		Vertex:      true,
		Project:     f.vertex.Project,
		Location:    firstNonEmpty(f.vertex.Location, "us-central1"),
		Credentials: creds,
		Timeout:     f.timeout,
		HTTPClient:  f.httpClient,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
