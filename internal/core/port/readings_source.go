package port

import (
	"context"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"
)

// ReadingsSource is an authenticated session against the cloud account.
type ReadingsSource interface {
	GetPlantIds(ctx context.Context) ([]string, error)
	GetPowerStatus(ctx context.Context) (*fusionsolar.PowerStatus, error)
	GetPlantData(ctx context.Context, plantId string) (fusionsolar.PlantData, error)
	Close(ctx context.Context) error
}

// SourceFactory opens a new session. It is called on startup, after repeated
// failures and when credentials change.
type SourceFactory func(ctx context.Context, creds config.Credentials) (ReadingsSource, error)
