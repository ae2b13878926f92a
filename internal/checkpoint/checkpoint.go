// internal/checkpoint/checkpoint.go
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Store is a checkpoint store that owns resources.
type Store interface {
	agent.CheckpointStore
	io.Closer
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
