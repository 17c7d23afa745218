package index

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by NewStore.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// NewStore creates the configured Store backend.
func NewStore(provider string, qdrantCfg QdrantConfig, chromemCfg ChromemConfig, logger *zap.Logger) (Store, error) {
	switch provider {
	case ProviderQdrant:
		return NewQdrantStore(qdrantCfg, logger)
	case ProviderChromem:
		return NewChromemStore(chromemCfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, provider)
	}
}
