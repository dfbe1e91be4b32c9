package service

import (
	"testing"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveReadings(t *testing.T) {
	status := &fusionsolar.PowerStatus{
		CurrentPowerKW:      2.35,
		CurrentPowerPresent: true,
	}
	plants := map[string]fusionsolar.PlantData{
		"NE=1": {
			fusionsolar.SERIES_PRODUCT_POWER: {Time: "2024-05-02 10:05", Value: 0.61},
			fusionsolar.SERIES_USE_POWER:     {Time: "2024-05-02 10:05", Value: 0.5},
			fusionsolar.SERIES_BUY_POWER:     {Time: "2024-05-02 10:05", Value: 0.2},
		},
	}

	readings := DeriveReadings("acc", status, []string{"NE=1"}, plants)
	require.Len(t, readings, 5)

	byKey := make(map[string]domain.Reading)
	for _, r := range readings {
		byKey[r.Description.Key] = r
	}

	assert.Equal(t, "acc-cur", byKey[domain.SENSOR_KEY_TOTAL_CURRENT_POWER].UniqueId)
	assert.Equal(t, 2.35, *byKey[domain.SENSOR_KEY_TOTAL_CURRENT_POWER].Value)

	today := byKey[domain.SENSOR_KEY_TOTAL_ENERGY_TODAY]
	assert.Equal(t, "acc-day", today.UniqueId)
	assert.False(t, today.HasValue(), "missing daily energy is absent, not zero")

	prod := byKey[domain.SENSOR_KEY_PLANT_PRODUCTION]
	assert.Equal(t, "NE=1", prod.PlantId)
	assert.Equal(t, "acc-NE=1-productPower", prod.UniqueId)
	assert.Equal(t, 0.61, *prod.Value)

	ratio := byKey[domain.SENSOR_KEY_PLANT_GRID_RATIO]
	require.True(t, ratio.HasValue())
	assert.InDelta(t, 40.0, *ratio.Value, 1e-9)
}

func TestDeriveReadingsMissingPlantData(t *testing.T) {
	readings := DeriveReadings("acc", nil, []string{"NE=1", "NE=2"}, nil)
	require.Len(t, readings, 8)
	for _, r := range readings {
		assert.False(t, r.HasValue(), r.UniqueId)
	}
}

func TestGridUsageRatio(t *testing.T) {
	assert.Nil(t, GridUsageRatio(nil, fp(1)))
	assert.Nil(t, GridUsageRatio(fp(1), nil))
	assert.Nil(t, GridUsageRatio(fp(1), fp(0)))
	assert.Equal(t, 100.0, *GridUsageRatio(fp(3), fp(1)))
	assert.Equal(t, 0.0, *GridUsageRatio(fp(0), fp(2)))
	assert.Equal(t, 25.0, *GridUsageRatio(fp(0.5), fp(2)))
}
