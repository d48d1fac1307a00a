package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
)

// New creates a Store from the vectorstore configuration section.
//
// Providers:
//   - "chromem" (default): embedded chromem-go store, no external service
//   - "qdrant": external Qdrant server over gRPC
//
// dim is the workspace embedding dimension; the chromem provider needs it to
// synthesize keyword probes after a restart.
func New(cfg config.VectorStoreConfig, dim int, log *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			VectorSize: dim,
		}, log)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:          cfg.Qdrant.Host,
			Port:          cfg.Qdrant.Port,
			APIKey:        cfg.Qdrant.APIKey.Value(),
			UseTLS:        cfg.Qdrant.UseTLS,
			SearchTimeout: cfg.SearchTimeout,
		}, log)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
