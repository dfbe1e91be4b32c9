package store

import (
	"context"
	"fmt"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// Open returns the state store selected by the configuration.
func Open(ctx context.Context, cfg config.StateConfig, logger *zap.Logger) (port.StateStore, error) {
	switch cfg.Backend {
	case config.STATE_BACKEND_FILE:
		return NewFileStore(cfg.Path, logger), nil
	case config.STATE_BACKEND_SQLITE:
		return OpenSQLiteStore(ctx, cfg.Path, logger)
	case config.STATE_BACKEND_MEMORY:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
