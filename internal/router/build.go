package router

import (
	"fmt"
	"strings"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/internal/providers/anthropic"
	"github.com/biodoia/operatoros/internal/providers/compat"
	"github.com/biodoia/operatoros/internal/providers/openai"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/rs/zerolog/log"
)

// Factory costruisce l'adapter di un backend a partire dalla configurazione
type Factory func(cfg config.BackendConfig, apiKey string) providers.Provider

var factories = map[providers.Kind]Factory{
	providers.KindAnthropic: func(cfg config.BackendConfig, apiKey string) providers.Provider {
		return anthropic.NewClient(cfg.Name, apiKey, cfg.Model,
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithTimeout(cfg.Timeout))
	},
	providers.KindOpenAI: func(cfg config.BackendConfig, apiKey string) providers.Provider {
		return openai.NewClient(cfg.Name, apiKey, cfg.Model,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithTimeout(cfg.Timeout))
	},
	providers.KindCompat: func(cfg config.BackendConfig, apiKey string) providers.Provider {
		return compat.NewClient(cfg.Name, cfg.BaseURL, apiKey, cfg.Model).WithTimeout(cfg.Timeout)
	},
}

// DescriptorFromConfig converte la configurazione di un backend nel descrittore
func DescriptorFromConfig(cfg config.BackendConfig) (Descriptor, error) {
	kind := providers.Kind(strings.ToLower(cfg.Kind))
	if !kind.Valid() {
		return Descriptor{}, fmt.Errorf("backend %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}

	affinity := make(map[agents.Category]float64, len(cfg.Affinity))
	for name, score := range cfg.Affinity {
		cat, err := agents.ParseCategory(name)
		if err != nil {
			return Descriptor{}, fmt.Errorf("backend %s: %w", cfg.Name, err)
		}
		affinity[cat] = score
	}

	return Descriptor{
		Name:       cfg.Name,
		Kind:       kind,
		Model:      cfg.Model,
		Priority:   cfg.Priority,
		Throughput: cfg.Throughput,
		Affinity:   affinity,
		Pricing: Pricing{
			InputPer1K:  cfg.Pricing.InputPer1K,
			OutputPer1K: cfg.Pricing.OutputPer1K,
		},
	}, nil
}

// NewProvider crea l'adapter per la configurazione, con rate limit se richiesto
func NewProvider(cfg config.BackendConfig) (providers.Provider, error) {
	kind := providers.Kind(strings.ToLower(cfg.Kind))
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("backend %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
	p := factory(cfg, cfg.ResolveAPIKey())
	return providers.WithRateLimit(p, cfg.RateLimit.RPS, cfg.RateLimit.Burst), nil
}

// BuildRegistry registra tutti i backend abilitati della configurazione
func BuildRegistry(backends []config.BackendConfig, opts ...RegistryOption) (*Registry, error) {
	registry := NewRegistry(opts...)

	for _, b := range backends {
		if b.Disabled {
			log.Info().Str("backend", b.Name).Msg("Backend disabled by configuration")
			continue
		}

		desc, err := DescriptorFromConfig(b)
		if err != nil {
			return nil, err
		}
		p, err := NewProvider(b)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(desc, p); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
