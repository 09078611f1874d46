package embedding

import (
	"context"
	"fmt"

	"github.com/entrhq/axcore/pkg/logging"
)

// Provider names.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Dimensions     int
	MaxInputTokens int
	BatchSize      int
	Workers        int
}

// NewFactory returns a Factory for the configured provider.
func NewFactory(cfg Config, logger *logging.Logger) (Factory, error) {
	switch cfg.Provider {
	case "", ProviderHashing:
		return func(context.Context) (Embedder, error) {
			return NewHashing(cfg.Dimensions), nil
		}, nil
	case ProviderOpenAI:
		return func(ctx context.Context) (Embedder, error) {
			return NewOpenAI(ctx, OpenAIConfig{
				APIKey:         cfg.APIKey,
				BaseURL:        cfg.BaseURL,
				Model:          cfg.Model,
				Dimensions:     cfg.Dimensions,
				MaxInputTokens: cfg.MaxInputTokens,
			}, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// New builds a lazily initialised Shared embedder from configuration.
func New(cfg Config, logger *logging.Logger) (*Shared, error) {
	factory, err := NewFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderHashing
	}
	return NewShared(provider, factory,
		WithBatchSize(cfg.BatchSize),
		WithWorkers(cfg.Workers),
		WithLogger(logger),
	), nil
}
