package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
)

// Providers bundles the concrete provider instances selected at startup.
// Construction is explicit configuration-driven selection; nothing inspects
// types at runtime.
type Providers struct {
	Generation interfaces.GenerationProvider
	Embedding  interfaces.EmbeddingProvider
}

// NewProviders builds the generation and embedding providers from
// configuration. Gemini serves embeddings whenever a cloud provider is
// selected, since Claude has no embedding endpoint; the offline provider
// serves both when selected.
func NewProviders(cfg *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (*Providers, error) {
	switch cfg.LLM.DefaultProvider {
	case "offline":
		offline := NewOfflineService(cfg.LLM.EmbedDimension, logger)
		return &Providers{Generation: offline, Embedding: offline}, nil

	case "claude":
		claude, err := NewClaudeService(&cfg.Claude, kvStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Claude provider: %w", err)
		}
		gemini, err := NewGeminiService(&cfg.Gemini, &cfg.LLM, kvStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini embedding provider: %w", err)
		}
		return &Providers{Generation: claude, Embedding: gemini}, nil

	case "gemini":
		gemini, err := NewGeminiService(&cfg.Gemini, &cfg.LLM, kvStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini provider: %w", err)
		}
		return &Providers{Generation: gemini, Embedding: gemini}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider: %q (expected gemini, claude or offline)", cfg.LLM.DefaultProvider)
	}
}

// Close releases both providers.
func (p *Providers) Close() error {
	var firstErr error
	if p.Generation != nil {
		if err := p.Generation.Close(); err != nil {
			firstErr = err
		}
	}
	// Embedding may be the same instance as Generation; Close is idempotent
	// for all provider implementations.
	if p.Embedding != nil {
		if closer, ok := p.Embedding.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
