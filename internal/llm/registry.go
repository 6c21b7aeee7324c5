package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Factory builds a provider bound to a model.
type Factory func(model string) Provider

type backend struct {
	factory      Factory
	defaultModel string
	limiter      *rate.Limiter
}

type providerKey struct {
	provider string
	model    string
}

// Registry hands out providers keyed by (provider, model). Instances are built
// once and shared; every call through them is rate limited per provider and
// bounded by the configured timeout.
type Registry struct {
	mu        sync.Mutex
	backends  map[string]*backend
	instances map[providerKey]Provider

	ratePerSecond float64
	burst         int
	timeout       time.Duration
}

type RegistryOption func(*Registry)

func WithRateLimit(perSecond float64, burst int) RegistryOption {
	return func(r *Registry) {
		r.ratePerSecond = perSecond
		r.burst = burst
	}
}

func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		backends:  map[string]*backend{},
		instances: map[providerKey]Provider{},
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(name, defaultModel string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := rate.Inf
	if r.ratePerSecond > 0 {
		limit = rate.Limit(r.ratePerSecond)
	}
	burst := r.burst
	if burst < 1 {
		burst = 1
	}
	r.backends[strings.ToLower(name)] = &backend{
		factory:      f,
		defaultModel: defaultModel,
		limiter:      rate.NewLimiter(limit, burst),
	}
}

// Get returns the provider for (provider, model). An empty model selects the
// backend's default model.
func (r *Registry) Get(provider, model string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if model == "" {
		model = b.defaultModel
	}
	key := providerKey{provider: name, model: model}
	if p, ok := r.instances[key]; ok {
		return p, nil
	}
	p := &guarded{inner: b.factory(model), limiter: b.limiter, timeout: r.timeout}
	r.instances[key] = p
	return p, nil
}

type guarded struct {
	inner   Provider
	limiter *rate.Limiter
	timeout time.Duration
}

func (g *guarded) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm rate limit: %w", err)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.inner.Complete(ctx, req)
}
