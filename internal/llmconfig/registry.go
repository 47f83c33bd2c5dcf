package llmconfig

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/vnmchuo/modelgate/internal/llmerr"
)

// Env is the credential source consulted at registration time.
type Env interface {
	Lookup(name string) (string, bool)
}

// OSEnv reads credentials from the process environment.
type OSEnv struct{}

func (OSEnv) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

// MapEnv is a fixed credential source, mostly for tests.
type MapEnv map[string]string

func (m MapEnv) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Registry maps logical keys to configs. Population happens once at start;
// reads are safe for concurrent use.
type Registry struct {
	env Env

	mu      sync.RWMutex
	configs map[string]Config
}

// NewRegistry creates an empty registry validating against env. A nil env
// means the process environment.
func NewRegistry(env Env) *Registry {
	if env == nil {
		env = OSEnv{}
	}
	return &Registry{env: env, configs: make(map[string]Config)}
}

// Register stores cfg under key. It fails with DuplicateConfig when the key is
// taken and with MissingProviderCredentials when a required credential is
// absent; in both cases the registry is unchanged.
func (r *Registry) Register(key string, cfg Config) error {
	if cfg == nil || key == "" {
		return llmerr.New(llmerr.KindInvalidConfig, "llm config requires a key and a value", llmerr.WithLLMKey(key))
	}
	if cfg.LLMKey() != "" && cfg.LLMKey() != key {
		return llmerr.New(llmerr.KindInvalidConfig, "llm config key "+cfg.LLMKey()+" registered as "+key, llmerr.WithLLMKey(key))
	}

	if missing := r.missingCredentials(cfg.RequiredCredentials()); len(missing) > 0 {
		return llmerr.MissingCredentials(key, missing)
	}

	resolved, err := r.resolve(key, cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[key]; exists {
		return llmerr.DuplicateConfig(key)
	}
	r.configs[key] = resolved
	return nil
}

// RegisterAll registers every config and reports all failures together.
// Valid configs are registered even when others fail.
func (r *Registry) RegisterAll(cfgs ...Config) error {
	var errs []error
	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		if err := r.Register(cfg.LLMKey(), cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the config for key or an UnknownConfig error.
func (r *Registry) Get(key string) (Config, error) {
	r.mu.RLock()
	cfg, ok := r.configs[key]
	r.mu.RUnlock()
	if !ok {
		return nil, llmerr.UnknownConfig(key)
	}
	return cfg, nil
}

// IsRouterBacked reports whether key is served by a RouterConfig.
func (r *Registry) IsRouterBacked(key string) (bool, error) {
	cfg, err := r.Get(key)
	if err != nil {
		return false, err
	}
	_, ok := cfg.(RouterConfig)
	return ok, nil
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.configs))
	for k := range r.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) missingCredentials(names []string) []string {
	var missing []string
	for _, name := range names {
		if v, ok := r.env.Lookup(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// resolve validates structure and expands ${NAME} references in literal
// params, returning an independent copy.
func (r *Registry) resolve(key string, cfg Config) (Config, error) {
	switch c := cfg.(type) {
	case ProviderConfig:
		if c.Model == "" {
			return nil, llmerr.New(llmerr.KindInvalidConfig, "provider config has no model", llmerr.WithLLMKey(key))
		}
		c.Key = key
		c.RequiredEnv = append([]string(nil), c.RequiredEnv...)
		c.Params = r.expand(c.Params.clone())
		return c, nil
	case RouterConfig:
		if len(c.Deployments) == 0 {
			return nil, llmerr.New(llmerr.KindInvalidConfig, "router config has no deployments", llmerr.WithLLMKey(key))
		}
		if len(c.GroupDeployments(c.MainGroup)) == 0 {
			return nil, llmerr.New(llmerr.KindInvalidConfig, "router main group "+c.MainGroup+" has no deployments", llmerr.WithLLMKey(key))
		}
		if c.FallbackGroup != "" && len(c.GroupDeployments(c.FallbackGroup)) == 0 {
			return nil, llmerr.New(llmerr.KindInvalidConfig, "router fallback group "+c.FallbackGroup+" has no deployments", llmerr.WithLLMKey(key))
		}
		if c.Strategy == "" {
			c.Strategy = StrategySimpleShuffle
		}
		c.Key = key
		c.RequiredEnv = append([]string(nil), c.RequiredEnv...)
		deployments := make([]Deployment, len(c.Deployments))
		for i, d := range c.Deployments {
			if d.Name == "" {
				d.Name = d.Group + "/" + d.Model
			}
			d.Params = r.expand(d.Params.clone())
			deployments[i] = d
		}
		c.Deployments = deployments
		return c, nil
	default:
		return nil, llmerr.New(llmerr.KindInvalidConfig, "unsupported llm config type", llmerr.WithLLMKey(key))
	}
}

func (r *Registry) expand(p LiteralParams) LiteralParams {
	lookup := func(name string) string {
		v, _ := r.env.Lookup(name)
		return v
	}
	p.APIKey = os.Expand(p.APIKey, lookup)
	p.APIBase = os.Expand(p.APIBase, lookup)
	p.APIVersion = os.Expand(p.APIVersion, lookup)
	p.VertexProject = os.Expand(p.VertexProject, lookup)
	p.VertexLocation = os.Expand(p.VertexLocation, lookup)
	p.VertexCredentials = os.Expand(p.VertexCredentials, lookup)
	for k, v := range p.Headers {
		p.Headers[k] = os.Expand(v, lookup)
	}
	return p
}
