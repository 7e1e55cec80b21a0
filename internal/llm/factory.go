package llm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"cellflow/internal/config"
)

// ErrModelUnavailable reports a provider that has not been registered.
var ErrModelUnavailable = errors.New("model provider unavailable")

// Factory resolves (provider, model) pairs to chat models, caching instances.
type Factory struct {
	mu        sync.Mutex
	providers map[Provider]ModelProvider
	models    map[string]ChatModel
}

// NewFactory registers the supplied providers.
func NewFactory(providers ...ModelProvider) *Factory {
	f := &Factory{
		providers: make(map[Provider]ModelProvider, len(providers)),
		models:    make(map[string]ChatModel),
	}
	for _, p := range providers {
		f.Register(p)
	}
	return f
}

// NewFactoryFromConfig registers every known provider using config credentials.
func NewFactoryFromConfig(cfg *config.Config, opts ...Option) *Factory {
	f := NewFactory()
	for _, id := range Providers() {
		settings := cfg.ProviderSettings(string(id))
		pc := Config{
			APIKey:         settings.APIKey,
			BaseURL:        settings.BaseURL,
			Referer:        settings.Referer,
			Title:          settings.Title,
			TimeoutSeconds: settings.TimeoutSeconds,
		}
		if id == ProviderAnthropic {
			f.Register(NewAnthropic(pc, opts...))
			continue
		}
		f.Register(NewOpenAICompatible(id, pc, opts...))
	}
	return f
}

// Register adds or replaces a provider and drops its cached models.
func (f *Factory) Register(p ModelProvider) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.ID()] = p
	prefix := string(p.ID()) + "/"
	for key := range f.models {
		if strings.HasPrefix(key, prefix) {
			delete(f.models, key)
		}
	}
}

// GetModel returns the chat model for a provider and model name.
func (f *Factory) GetModel(provider Provider, model string) (ChatModel, error) {
	key := string(provider) + "/" + model
	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.models[key]; ok {
		return cached, nil
	}
	p, ok := f.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelUnavailable, provider)
	}
	chat, err := p.CreateModel(model)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", key, err)
	}
	f.models[key] = chat
	return chat, nil
}
