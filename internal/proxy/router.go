package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/provider"
	"github.com/vnmchuo/modelgate/internal/provider/factory"
	"github.com/vnmchuo/modelgate/pkg/logger"
	"github.com/vnmchuo/modelgate/pkg/ratelimit"
)

// ProviderSource resolves a backend into a provider adapter.
type ProviderSource interface {
	Provider(ctx context.Context, t factory.Target) (provider.Provider, error)
}

var errNoDeployment = errors.New("no healthy deployment available")

const (
	defaultAllowedFails = 3
	defaultCooldown     = 30 * time.Second
	latencyWeight       = 0.3
)

type deployment struct {
	cfg     llmconfig.Deployment
	breaker *gobreaker.CircuitBreaker

	// guarded by Router.mu
	inFlight int
	tokens   int64
	window   time.Time
	latency  time.Duration
}

// Router load-balances one RouterConfig. Deployments of the main group are
// tried first; the fallback group takes over once the main group is
// exhausted. Each deployment sits behind its own circuit breaker.
type Router struct {
	cfg     llmconfig.RouterConfig
	source  ProviderSource
	limiter *ratelimit.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	deployments map[string]*deployment
	next        map[string]int
}

func NewRouter(cfg llmconfig.RouterConfig, source ProviderSource, limiter *ratelimit.Limiter) *Router {
	r := &Router{
		cfg:         cfg,
		source:      source,
		limiter:     limiter,
		log:         logger.NewComponentLogger("router").With("llm_key", cfg.Key),
		sleep:       sleepCtx,
		deployments: make(map[string]*deployment, len(cfg.Deployments)),
		next:        make(map[string]int),
	}

	allowed := cfg.AllowedFails
	if allowed <= 0 {
		allowed = defaultAllowedFails
	}
	cooldown := cfg.CooldownTime
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	for _, d := range cfg.Deployments {
		settings := gobreaker.Settings{
			Name:        d.Name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(allowed)
			},
			IsSuccessful: deploymentHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.log.Info("deployment state changed", "deployment", name, "from", from.String(), "to", to.String())
			},
		}
		r.deployments[d.Name] = &deployment{cfg: d, breaker: gobreaker.NewCircuitBreaker(settings)}
	}
	return r
}

// callerDone marks a failure that happened after the caller's context ended.
// It says nothing about the deployment.
type callerDone struct{ err error }

func (e *callerDone) Error() string { return e.err.Error() }

func (e *callerDone) Unwrap() error { return e.err }

// deploymentHealthy reports errors that say nothing about the deployment.
func deploymentHealthy(err error) bool {
	if err == nil {
		return true
	}
	var done *callerDone
	if errors.As(err, &done) {
		return true
	}
	switch classify(err).Kind() {
	case llmerr.KindCancelled, llmerr.KindContextWindowExceeded:
		return true
	}
	return false
}

// final reports errors that no other deployment or retry can fix.
func final(err error) bool {
	switch classify(err).Kind() {
	case llmerr.KindCancelled, llmerr.KindContextWindowExceeded:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete sends req to the best deployment, retrying and falling back as
// configured. req.Model is replaced by the chosen deployment's model.
func (r *Router) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	resp, err := r.completeGroup(ctx, r.cfg.MainGroup, req)
	if err == nil || final(err) || ctx.Err() != nil || r.cfg.FallbackGroup == "" {
		return resp, err
	}

	r.log.Warn("main group exhausted, falling back",
		"main_group", r.cfg.MainGroup, "fallback_group", r.cfg.FallbackGroup, "error", err)
	fbResp, fbErr := r.completeGroup(ctx, r.cfg.FallbackGroup, req)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback group %s: %w", r.cfg.FallbackGroup, fbErr)
	}
	return fbResp, nil
}

func (r *Router) completeGroup(ctx context.Context, group string, req *provider.Request) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.NumRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
		for _, d := range r.candidates(group) {
			resp, err := r.try(ctx, d, req)
			if err == nil {
				return resp, nil
			}
			if final(err) || ctx.Err() != nil {
				return nil, err
			}
			r.log.Warn("deployment failed", "deployment", d.cfg.Name, "attempt", attempt, "error", err)
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("group %s: %w", group, errNoDeployment)
	}
	return nil, lastErr
}

func (r *Router) try(ctx context.Context, d *deployment, req *provider.Request) (*provider.Response, error) {
	allowed, err := r.limiter.Allow(ctx, d.cfg.Name, d.cfg.RPM)
	if err != nil {
		r.log.Warn("rate limiter unavailable", "deployment", d.cfg.Name, "error", err)
	} else if !allowed {
		return nil, &provider.APIError{Provider: d.cfg.Name, StatusCode: 429, Message: "deployment rpm limit reached"}
	}

	p, err := r.source.Provider(ctx, factory.Target{
		Name:   d.cfg.Name,
		Model:  d.cfg.Model,
		Family: d.cfg.Family,
		Params: d.cfg.Params,
	})
	if err != nil {
		return nil, err
	}

	sent := *req
	sent.Model = d.cfg.Model
	sent.Params = req.Params.Clone()

	r.begin(d)
	start := time.Now()
	result, err := d.breaker.Execute(func() (interface{}, error) {
		resp, err := p.Complete(ctx, &sent)
		if err != nil && ctx.Err() != nil {
			return nil, &callerDone{err: err}
		}
		return resp, err
	})
	r.end(d, time.Since(start), result, err)
	var done *callerDone
	if errors.As(err, &done) {
		err = done.err
	}
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

func (r *Router) begin(d *deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.inFlight++
}

func (r *Router) end(d *deployment, elapsed time.Duration, result interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.inFlight--
	if err != nil {
		return
	}
	if d.latency == 0 {
		d.latency = elapsed
	} else {
		d.latency = time.Duration(latencyWeight*float64(elapsed) + (1-latencyWeight)*float64(d.latency))
	}
	if resp, ok := result.(*provider.Response); ok {
		now := time.Now()
		if now.Sub(d.window) >= time.Minute {
			d.window, d.tokens = now, 0
		}
		d.tokens += resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
}

// candidates orders the group's closed-breaker deployments by strategy.
func (r *Router) candidates(group string) []*deployment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*deployment
	for _, cfg := range r.cfg.GroupDeployments(group) {
		d := r.deployments[cfg.Name]
		if d == nil || d.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if d.cfg.TPM > 0 && time.Since(d.window) < time.Minute && d.tokens >= int64(d.cfg.TPM) {
			continue
		}
		out = append(out, d)
	}
	if len(out) < 2 {
		return out
	}

	switch r.cfg.Strategy {
	case llmconfig.StrategyLeastBusy:
		sort.SliceStable(out, func(i, j int) bool { return out[i].inFlight < out[j].inFlight })
	case llmconfig.StrategyUsageBased:
		sort.SliceStable(out, func(i, j int) bool { return r.usage(out[i]) < r.usage(out[j]) })
	case llmconfig.StrategyLatencyBased:
		// unmeasured deployments go first so they get a sample
		sort.SliceStable(out, func(i, j int) bool { return out[i].latency < out[j].latency })
	default:
		start := r.next[group] % len(out)
		r.next[group]++
		rotated := make([]*deployment, 0, len(out))
		rotated = append(rotated, out[start:]...)
		out = append(rotated, out[:start]...)
	}
	return out
}

func (r *Router) usage(d *deployment) int64 {
	if time.Since(d.window) >= time.Minute {
		return 0
	}
	return d.tokens
}
