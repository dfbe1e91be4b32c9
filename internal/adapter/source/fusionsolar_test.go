package source

import (
	"context"
	"errors"
	"testing"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientFactorySource(t *testing.T) {
	client := fusionsolar.NewTestClient()
	factory := NewClientFactory(client, zap.NewNop())

	src, err := factory(context.Background(), config.Credentials{Username: "user"})
	require.NoError(t, err)
	assert.True(t, client.LoggedIn)

	ids, err := src.GetPlantIds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"NE=33594051"}, ids)

	data, err := src.GetPlantData(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0.61, *data.Value(fusionsolar.SERIES_PRODUCT_POWER))
	assert.Equal(t, "2024-05-02 10:05", data[fusionsolar.SERIES_USE_POWER].Time)

	status, err := src.GetPowerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11.2, status.TotalPowerTodayKWh)

	require.NoError(t, src.Close(context.Background()))
	assert.True(t, client.LoggedOut)
}

func TestClientFactoryLoginFailure(t *testing.T) {
	client := fusionsolar.NewTestClient()
	client.LoginErr = fusionsolar.ErrAuthentication
	factory := NewClientFactory(client, zap.NewNop())

	_, err := factory(context.Background(), config.Credentials{})
	assert.True(t, errors.Is(err, fusionsolar.ErrAuthentication))
}

func TestPlantDataError(t *testing.T) {
	client := fusionsolar.NewTestClient()
	src := NewFusionSolarSource(client, zap.NewNop())
	require.NoError(t, client.Login(context.Background()))

	client.SetFetchError(errors.New("boom"))
	_, err := src.GetPlantData(context.Background(), "NE=33594051")
	assert.Error(t, err)
}
