package service

import (
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"
)

var plantSensorKeys = []string{
	domain.SENSOR_KEY_PLANT_PRODUCTION,
	domain.SENSOR_KEY_PLANT_CONSUMPTION,
	domain.SENSOR_KEY_PLANT_GRID_RATIO,
}

// DeriveReadings reshapes a fetched snapshot into the fixed set of readings.
// Every sensor is present in the result; values the cloud did not report are
// nil.
func DeriveReadings(accountHash string, status *fusionsolar.PowerStatus, plantIds []string, plants map[string]fusionsolar.PlantData) []domain.Reading {
	var readings []domain.Reading

	var currentPower, energyToday *float64
	if status != nil {
		if status.CurrentPowerPresent {
			currentPower = floatPtr(status.CurrentPowerKW)
		}
		if status.TodayPresent {
			energyToday = floatPtr(status.TotalPowerTodayKWh)
		}
	}
	readings = append(readings,
		newReading(accountHash, "", domain.SENSOR_KEY_TOTAL_CURRENT_POWER, currentPower),
		newReading(accountHash, "", domain.SENSOR_KEY_TOTAL_ENERGY_TODAY, energyToday),
	)

	for _, plantId := range plantIds {
		data := plants[plantId]
		for _, key := range plantSensorKeys {
			var value *float64
			switch key {
			case domain.SENSOR_KEY_PLANT_PRODUCTION:
				value = data.Value(fusionsolar.SERIES_PRODUCT_POWER)
			case domain.SENSOR_KEY_PLANT_CONSUMPTION:
				value = data.Value(fusionsolar.SERIES_USE_POWER)
			case domain.SENSOR_KEY_PLANT_GRID_RATIO:
				value = GridUsageRatio(data.Value(fusionsolar.SERIES_BUY_POWER), data.Value(fusionsolar.SERIES_USE_POWER))
			}
			readings = append(readings, newReading(accountHash, plantId, key, value))
		}
	}

	return readings
}

// GridUsageRatio is the share of the consumption bought from the grid, in
// percent.
func GridUsageRatio(buy, use *float64) *float64 {
	if buy == nil || use == nil || *use <= 0 {
		return nil
	}
	ratio := *buy / *use * 100
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 100:
		ratio = 100
	}
	return &ratio
}

func newReading(accountHash, plantId, key string, value *float64) domain.Reading {
	return domain.Reading{
		Description: domain.SENSOR_TYPES[key],
		PlantId:     plantId,
		UniqueId:    domain.MetricUniqueId(accountHash, plantId, key),
		SensorId:    domain.MetricSensorId(plantId, key),
		Value:       value,
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
