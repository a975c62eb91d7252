package capability

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Settings holds the static construction inputs for one provider.
// Empty fields fall back to per-provider defaults; an empty APIKey falls
// back to the provider's conventional environment variable.
type Settings struct {
	APIKey    string
	BaseURL   string
	Model     string
	TimeoutMs int
}

// Factory builds a capability instance. It must not perform network I/O;
// failures here mean bad configuration, and callers skip the provider.
type Factory func() (Capability, error)

// Registry maps provider ids to capability factories and caches the
// constructed instances for the process lifetime. It is an explicit
// object rather than package state so tests and concurrent pipelines get
// isolated registries.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Capability
}

// NewRegistry builds a registry with one factory per configured provider.
// The provider kind is derived from the id: anthropic and google use
// their native SDKs, everything else speaks the OpenAI-compatible
// protocol (with a per-provider default base URL where one is known).
func NewRegistry(settings map[string]Settings) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Capability),
	}
	for id, s := range settings {
		id, s := id, s
		switch id {
		case "anthropic":
			r.factories[id] = func() (Capability, error) { return newAnthropic(id, s) }
		case "google", "gemini":
			r.factories[id] = func() (Capability, error) { return newGoogle(id, s) }
		default:
			r.factories[id] = func() (Capability, error) { return newOpenAICompatible(id, s) }
		}
	}
	return r
}

// DefaultSettings enumerates the providers the registry knows out of the
// box. Keys and endpoints resolve from the environment at construction.
func DefaultSettings() map[string]Settings {
	providers := []string{
		"openai", "anthropic", "google",
		"deepseek", "siliconflow", "openrouter", "ollama", "zai",
	}
	m := make(map[string]Settings, len(providers))
	for _, id := range providers {
		m[id] = Settings{}
	}
	return m
}

// Register installs a custom factory, replacing any existing one for id.
// Later Create calls construct through the new factory; an already
// cached instance for id is dropped.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	delete(r.instances, id)
}

// Has reports whether a factory exists for id. Routing uses this as the
// filter that keeps unexecutable provider ids out of every decision.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Create returns the cached instance for id, constructing it on first
// use. Unknown ids and construction failures return an error so callers
// can skip the provider and move on.
func (r *Registry) Create(id string) (Capability, error) {
	r.mu.RLock()
	if c, ok := r.instances[id]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("capability: unknown provider %q", id)
	}

	c, err := factory()
	if err != nil {
		slog.Warn("capability: construction failed", "provider", id, "error", err)
		return nil, fmt.Errorf("capability: construct %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Create may have won the race; keep the first instance.
	if cached, ok := r.instances[id]; ok {
		return cached, nil
	}
	r.instances[id] = c
	return c, nil
}

// IDs returns every registered provider id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// apiKeyFor resolves the key for a provider: explicit settings first,
// then the conventional <PROVIDER>_API_KEY environment variable, with
// GEMINI_API_KEY covering google.
func apiKeyFor(id string, s Settings) string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if id == "google" || id == "gemini" {
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
	}
	return os.Getenv(strings.ToUpper(id) + "_API_KEY")
}
