package classifier

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultProviderName is used when AI_PROVIDER is unset.
const DefaultProviderName = AnthropicProviderName

// Registry stores providers and resolves the configured default.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	normalizedDefault := normalizeProviderName(defaultProvider)
	if normalizedDefault == "" {
		normalizedDefault = DefaultProviderName
	}

	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: normalizedDefault,
	}
}

// Settings selects and configures the built-in providers.
type Settings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewRegistryFromSettings registers every provider the settings can build.
// The anthropic provider is skipped when no API key is set; the
// OpenAI-compatible provider needs none (local servers).
func NewRegistryFromSettings(s Settings) *Registry {
	registry := NewRegistry(s.Provider)

	if anthropicProvider, err := NewAnthropicProvider(s.APIKey, modelFor(s, AnthropicProviderName), baseURLFor(s, AnthropicProviderName)); err == nil {
		_ = registry.Register(anthropicProvider)
	}
	_ = registry.Register(NewOpenAIProvider(baseURLFor(s, OpenAIProviderName), modelFor(s, OpenAIProviderName), s.APIKey))

	return registry
}

func modelFor(s Settings, name string) string {
	if normalizeProviderName(s.Provider) == name {
		return s.Model
	}
	return ""
}

func baseURLFor(s Settings, name string) string {
	if normalizeProviderName(s.Provider) == name {
		return s.BaseURL
	}
	return ""
}

// Register adds one provider.
func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by name. Empty names use the default provider.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers are registered", ErrNotConfigured)
	}

	resolvedName := normalizeProviderName(name)
	if resolvedName == "" {
		resolvedName = r.defaultProvider
	}
	provider, ok := r.providers[resolvedName]
	if ok {
		return provider, nil
	}

	return nil, fmt.Errorf("%w: provider %q is not registered (available: %s)", ErrNotConfigured, resolvedName, strings.Join(r.ProviderNames(), ", "))
}

func (r *Registry) DefaultProvider() string {
	if r == nil {
		return ""
	}
	return r.defaultProvider
}

func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
