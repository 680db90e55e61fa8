package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
)

// ErrUnknownProvider is returned for model strings naming a provider that
// is neither preset nor configured.
var ErrUnknownProvider = errors.New("unknown provider")

// Preset describes a well-known provider endpoint.
type Preset struct {
	BaseURL     string
	APIKeyEnv   string
	DisplayName string
	// KeyRequired marks providers that are only offered when an API key
	// is configured.
	KeyRequired bool
}

// Presets lists the providers available out of the box. All of them speak
// the OpenAI Chat Completions protocol at BaseURL.
var Presets = map[string]Preset{
	"openai":     {BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY", DisplayName: "OpenAI", KeyRequired: true},
	"anthropic":  {BaseURL: "https://api.anthropic.com/v1", APIKeyEnv: "ANTHROPIC_API_KEY", DisplayName: "Anthropic", KeyRequired: true},
	"groq":       {BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY", DisplayName: "Groq", KeyRequired: true},
	"google-gla": {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", APIKeyEnv: "GEMINI_API_KEY", DisplayName: "Google", KeyRequired: true},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY", DisplayName: "OpenRouter", KeyRequired: true},
	"ollama":     {BaseURL: "http://localhost:11434/v1", DisplayName: "Ollama (Local)"},
}

// Config configures one provider entry.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Models is a static model list offered in addition to (or, for
	// backends without a listing endpoint, instead of) discovered models.
	Models []string
}

// Factory builds a Provider from its configuration.
type Factory func(cfg Config) (Provider, error)

// ParseModel splits a model string of the form "provider:model" on the
// first colon. The model part may itself contain colons
// ("ollama:qwen2.5:14b").
func ParseModel(s string) (providerName, model string, err error) {
	providerName, model, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || providerName == "" || model == "" {
		return "", "", api.NewInvalidRequestError("model",
			fmt.Sprintf("model %q must have the form provider:model", s))
	}
	return providerName, model, nil
}

// Registry resolves model strings to providers. Providers are built on
// first use and cached.
type Registry struct {
	factory Factory

	mu        sync.Mutex
	configs   map[string]Config
	providers map[string]Provider
}

// NewRegistry returns a registry serving the presets, overridden or
// extended by cfgs.
func NewRegistry(factory Factory, cfgs ...Config) *Registry {
	r := &Registry{
		factory:   factory,
		configs:   make(map[string]Config),
		providers: make(map[string]Provider),
	}
	for name, p := range Presets {
		r.configs[name] = Config{Name: name, BaseURL: p.BaseURL}
	}
	for _, c := range cfgs {
		base := r.configs[c.Name]
		if c.BaseURL == "" {
			c.BaseURL = base.BaseURL
		}
		r.configs[c.Name] = c
	}
	return r
}

// Resolve returns the provider and the provider-local model name for a
// "provider:model" string.
func (r *Registry) Resolve(modelString string) (Provider, string, error) {
	name, model, err := ParseModel(modelString)
	if err != nil {
		return nil, "", err
	}
	p, err := r.get(name)
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

// Validate reports whether modelString names a known provider.
func (r *Registry) Validate(modelString string) error {
	name, _, err := ParseModel(modelString)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[name]; !ok {
		return api.NewInvalidRequestError("model", fmt.Sprintf("%s: %q", ErrUnknownProvider, name))
	}
	return nil
}

func (r *Registry) get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, api.NewInvalidRequestError("model", fmt.Sprintf("%s: %q", ErrUnknownProvider, name))
	}
	p, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider %s: %w", name, err)
	}
	debug.Log("providers", "provider created", "name", name, "base_url", cfg.BaseURL)
	r.providers[name] = p
	return p, nil
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.configs))
	for name := range r.configs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enabled reports whether a provider should be offered: it has an API key,
// or its preset does not need one.
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	cfg, ok := r.configs[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if preset, isPreset := Presets[name]; isPreset && preset.KeyRequired {
		return cfg.APIKey != ""
	}
	return true
}

// ListModels aggregates the models of every enabled provider. Providers
// that fail to list are logged and skipped.
func (r *Registry) ListModels(ctx context.Context) []api.AvailableModel {
	var out []api.AvailableModel
	for _, name := range r.Names() {
		if !r.Enabled(name) {
			continue
		}
		display := name
		if preset, ok := Presets[name]; ok {
			display = preset.DisplayName
		}

		r.mu.Lock()
		static := r.configs[name].Models
		r.mu.Unlock()

		seen := make(map[string]bool)
		add := func(id string) {
			if id == "" || seen[id] {
				return
			}
			seen[id] = true
			out = append(out, api.AvailableModel{ID: name + ":" + id, Name: id, Provider: display})
		}
		for _, m := range static {
			add(m)
		}

		p, err := r.get(name)
		if err != nil {
			slog.Warn("provider unavailable", "provider", name, "error", err)
			continue
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			slog.Warn("failed to discover models", "provider", name, "error", err)
			continue
		}
		for _, m := range models {
			add(m.ID)
		}
	}
	return out
}

// Close closes every provider created so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing provider %s: %w", name, err))
		}
	}
	r.providers = make(map[string]Provider)
	return errors.Join(errs...)
}
