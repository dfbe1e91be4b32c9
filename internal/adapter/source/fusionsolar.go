package source

import (
	"context"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"

	"go.uber.org/zap"
)

// FusionSolarSource exposes a logged in fusionsolar.Client as a readings
// source.
type FusionSolarSource struct {
	client fusionsolar.Client
	logger *zap.Logger
}

func NewFusionSolarSource(client fusionsolar.Client, logger *zap.Logger) *FusionSolarSource {
	return &FusionSolarSource{
		client: client,
		logger: logger,
	}
}

func (s *FusionSolarSource) GetPlantIds(ctx context.Context) ([]string, error) {
	return s.client.GetPlantIds(ctx)
}

func (s *FusionSolarSource) GetPowerStatus(ctx context.Context) (*fusionsolar.PowerStatus, error) {
	return s.client.GetPowerStatus(ctx)
}

func (s *FusionSolarSource) GetPlantData(ctx context.Context, plantId string) (fusionsolar.PlantData, error) {
	stats, err := s.client.GetPlantStats(ctx, plantId)
	if err != nil {
		return nil, err
	}
	data := fusionsolar.GetLastPlantData(stats)
	s.logger.Debug("source: plant data", zap.String("plant", plantId), zap.Int("series", len(data)))
	return data, nil
}

func (s *FusionSolarSource) Close(ctx context.Context) error {
	return s.client.Logout(ctx)
}

// NewFusionSolarFactory opens a new logged in session per call. Login
// failures surface as fusionsolar.ErrAuthentication.
func NewFusionSolarFactory(timeout time.Duration, logger *zap.Logger, opts ...fusionsolar.Option) port.SourceFactory {
	return func(ctx context.Context, creds config.Credentials) (port.ReadingsSource, error) {
		clientOpts := append([]fusionsolar.Option{
			fusionsolar.WithTimeout(timeout),
			fusionsolar.WithLogger(logger),
		}, opts...)
		client, err := fusionsolar.CreateClient(ctx, creds.Username, creds.Password, creds.Subdomain, clientOpts...)
		if err != nil {
			return nil, err
		}
		logger.Info("source: session opened", zap.String("username", creds.Username))
		return NewFusionSolarSource(client, logger), nil
	}
}

// NewClientFactory wraps an existing client, logging it in on every call.
// Used with in-memory clients.
func NewClientFactory(client fusionsolar.Client, logger *zap.Logger) port.SourceFactory {
	return func(ctx context.Context, _ config.Credentials) (port.ReadingsSource, error) {
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
		return NewFusionSolarSource(client, logger), nil
	}
}

// ensure interface compliance
var _ port.ReadingsSource = (*FusionSolarSource)(nil)
