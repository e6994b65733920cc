package llm

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
)

var (
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrProviderDisabled = errors.New("provider disabled")
	ErrModelNotAllowed  = errors.New("model not allowed")
)

// RegisterOptions control how a provider is exposed to sessions.
type RegisterOptions struct {
	Disabled bool
	// AllowedModels restricts the models a session may pick. Empty allows any.
	AllowedModels []string
	// DefaultModel is used when a session does not name a model.
	DefaultModel string
}

type registryEntry struct {
	provider Provider
	opts     RegisterOptions
}

// Registry maps provider IDs to configured providers. Lookups are pure: they
// never touch the network.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds or replaces p under p.ID().
func (r *Registry) Register(p Provider, opts RegisterOptions) {
	if p == nil {
		return
	}
	allowed := make([]string, 0, len(opts.AllowedModels))
	for _, m := range opts.AllowedModels {
		if m = strings.TrimSpace(m); m != "" {
			allowed = append(allowed, m)
		}
	}
	opts.AllowedModels = allowed
	opts.DefaultModel = strings.TrimSpace(opts.DefaultModel)
	if opts.DefaultModel == "" && len(allowed) > 0 {
		opts.DefaultModel = allowed[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalizeID(p.ID())] = registryEntry{provider: p, opts: opts}
}

// Lookup resolves a provider and the model to request from it. Unknown or
// disabled providers and models outside the allow list are configuration
// errors.
func (r *Registry) Lookup(providerID, modelID string) (Provider, string, error) {
	r.mu.RLock()
	entry, ok := r.entries[normalizeID(providerID)]
	r.mu.RUnlock()

	if !ok {
		return nil, "", failure.ConfigurationError("provider_lookup", "%w: %q", ErrUnknownProvider, providerID)
	}
	if entry.opts.Disabled {
		return nil, "", failure.ConfigurationError("provider_lookup", "%w: %q", ErrProviderDisabled, providerID)
	}

	model := strings.TrimSpace(modelID)
	if model == "" {
		model = entry.opts.DefaultModel
	}
	if len(entry.opts.AllowedModels) > 0 && !contains(entry.opts.AllowedModels, model) {
		return nil, "", failure.ConfigurationError("model_lookup", "%w: %q for provider %q", ErrModelNotAllowed, model, providerID)
	}
	return entry.provider, model, nil
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	ID            string   `json:"id"`
	Enabled       bool     `json:"enabled"`
	DefaultModel  string   `json:"default_model,omitempty"`
	AllowedModels []string `json:"allowed_models,omitempty"`
}

func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, ProviderInfo{
			ID:            id,
			Enabled:       !e.opts.Disabled,
			DefaultModel:  e.opts.DefaultModel,
			AllowedModels: append([]string(nil), e.opts.AllowedModels...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns an enabled provider by ID, without model validation.
func (r *Registry) Get(providerID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalizeID(providerID)]
	if !ok || e.opts.Disabled {
		return nil, false
	}
	return e.provider, true
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
