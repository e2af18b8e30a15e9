package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all registered providers ordered by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range provider.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers, best first.
func (r *Registry) AllModels() []types.Model {
	var models []types.Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}
	sort.SliceStable(models, func(i, j int) bool {
		return modelPriority(models[i]) > modelPriority(models[j])
	})
	return models
}

// DefaultModel returns the configured model, or the best vision-capable
// one available.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		return r.GetModel(providerID, modelID)
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ChatModel resolves the default model to its provider's chat model.
func (r *Registry) ChatModel() (model.BaseChatModel, *types.Model, error) {
	m, err := r.DefaultModel()
	if err != nil {
		return nil, nil, err
	}
	p, err := r.Get(m.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return p.ChatModel(), m, nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// modelPriority ranks models; frame analysis needs vision.
func modelPriority(m types.Model) int {
	p := 50
	switch {
	case strings.Contains(m.ID, "claude-sonnet-4"):
		p = 90
	case strings.Contains(m.ID, "gpt-4o-mini"):
		p = 70
	case strings.Contains(m.ID, "gpt-4o"):
		p = 80
	case strings.Contains(m.ID, "claude-haiku"):
		p = 75
	}
	if !m.SupportsVision {
		p -= 40
	}
	return p
}

// InitializeProviders creates and registers every provider that has
// credentials in config. A provider that fails to start is logged and
// skipped.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)

	if cfg, ok := config.Provider["anthropic"]; ok && cfg.APIKey != "" && !cfg.Disable {
		p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: 4096,
		})
		if err != nil {
			logging.Warn().Err(err).Str("provider", "anthropic").Msg("provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := config.Provider["openai"]; ok && cfg.APIKey != "" && !cfg.Disable {
		p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: 4096,
		})
		if err != nil {
			logging.Warn().Err(err).Str("provider", "openai").Msg("provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := config.Provider["ark"]; ok && cfg.APIKey != "" && !cfg.Disable {
		p, err := NewArkProvider(ctx, &ArkConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: 4096,
		})
		if err != nil {
			logging.Warn().Err(err).Str("provider", "ark").Msg("provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	return registry, nil
}
