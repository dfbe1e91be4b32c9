package domain

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/jgriss/fusionsolar2mqtt/internal/config"
)

const (
	SENSOR_ID_BRIDGE_STATE = "bridge"
	SENSOR_ID_POLL_STATUS  = "poll_status"
	BUTTON_ID_REFRESH      = "refresh"

	SENSOR_KEY_TOTAL_CURRENT_POWER = "total-current_power_kw"
	SENSOR_KEY_TOTAL_ENERGY_TODAY  = "total-power_today_kwh"
	SENSOR_KEY_PLANT_PRODUCTION    = "productPower"
	SENSOR_KEY_PLANT_CONSUMPTION   = "usePower"
	SENSOR_KEY_PLANT_GRID_RATIO    = "grid_ratio"

	SCOPE_TOTAL = "total"
	SCOPE_PLANT = "plant"

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL            = "total"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"

	UNIT_KW      = "kW"
	UNIT_KWH     = "kWh"
	UNIT_PERCENT = "%"
	ICON_SOLAR   = "mdi:solar-panel"
)

// SensorDescription describes a metric independently of the plant it is
// read from.
type SensorDescription struct {
	Key               string
	Scope             string
	Name              string
	Icon              string
	EntityCategory    string
	UnitOfMeasurement string
	DeviceClass       string
	StateClass        string
	Decimals          uint
}

func (d SensorDescription) Cumulative() bool {
	return d.StateClass == STATE_CLASS_TOTAL || d.StateClass == STATE_CLASS_TOTAL_INCREASING
}

var SENSOR_TYPES = map[string]SensorDescription{
	SENSOR_KEY_TOTAL_CURRENT_POWER: {
		Key:               SENSOR_KEY_TOTAL_CURRENT_POWER,
		Scope:             SCOPE_TOTAL,
		Name:              "Total Power - Now",
		Icon:              ICON_SOLAR,
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UnitOfMeasurement: UNIT_KW,
		DeviceClass:       DEVICE_CLASS_POWER,
		StateClass:        STATE_CLASS_MEASUREMENT,
		Decimals:          3,
	},
	SENSOR_KEY_TOTAL_ENERGY_TODAY: {
		Key:               SENSOR_KEY_TOTAL_ENERGY_TODAY,
		Scope:             SCOPE_TOTAL,
		Name:              "Total Energy - Today",
		Icon:              ICON_SOLAR,
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UnitOfMeasurement: UNIT_KWH,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL,
		Decimals:          2,
	},
	SENSOR_KEY_PLANT_PRODUCTION: {
		Key:               SENSOR_KEY_PLANT_PRODUCTION,
		Scope:             SCOPE_PLANT,
		Name:              "Power",
		Icon:              ICON_SOLAR,
		UnitOfMeasurement: UNIT_KWH,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL,
		Decimals:          2,
	},
	SENSOR_KEY_PLANT_CONSUMPTION: {
		Key:               SENSOR_KEY_PLANT_CONSUMPTION,
		Scope:             SCOPE_PLANT,
		Name:              "Consumption",
		Icon:              "mdi:home-lightning-bolt",
		UnitOfMeasurement: UNIT_KWH,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL,
		Decimals:          2,
	},
	SENSOR_KEY_PLANT_GRID_RATIO: {
		Key:               SENSOR_KEY_PLANT_GRID_RATIO,
		Scope:             SCOPE_PLANT,
		Name:              "Grid Usage Ratio",
		Icon:              "mdi:transmission-tower-import",
		UnitOfMeasurement: UNIT_PERCENT,
		StateClass:        STATE_CLASS_MEASUREMENT,
		Decimals:          1,
	},
}

// AccountHash identifies an account without exposing its credentials.
func AccountHash(creds config.Credentials) string {
	m := sha256.New()
	m.Write([]byte(creds.Username))
	m.Write([]byte(creds.Subdomain))
	return hex.EncodeToString(m.Sum(nil))
}

// MetricUniqueId is the stable identity of a metric, used both as Home
// Assistant unique id and as key of the persisted metric state.
func MetricUniqueId(accountHash, plantId, key string) string {
	switch {
	case key == SENSOR_KEY_TOTAL_CURRENT_POWER:
		return accountHash + "-cur"
	case key == SENSOR_KEY_TOTAL_ENERGY_TODAY:
		return accountHash + "-day"
	case plantId != "":
		return accountHash + "-" + plantId + "-" + key
	default:
		return accountHash + "-" + key
	}
}

// MetricSensorId is the topic safe id of a metric.
func MetricSensorId(plantId, key string) string {
	id := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	if plantId != "" {
		return fmt.Sprintf("plant_%s_%s", md5HashShort(plantId), id)
	}
	return id
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("fusionsolar_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "jgriss",
		Model:        "FusionSolar2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("FusionSolar %s", md5HashShort(baseTopic)),
	}
}

func AccountDevice(accountHash string) Device {
	return Device{
		Id:           fmt.Sprintf("fusionsolar_account_%s", accountHash[:8]),
		Manufacturer: "Huawei",
		Model:        "FusionSolar",
		Name:         "FusionSolar",
	}
}

func PlantDevice(plantId string) Device {
	return Device{
		Id:           fmt.Sprintf("fusionsolar_plant_%s", md5HashShort(plantId)),
		Manufacturer: "Huawei",
		Model:        "FusionSolar plant",
		Name:         fmt.Sprintf("FusionSolar %s", plantId),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// ReadingSensors builds the discovery description of every reading. The
// first sensor of each device carries the full device, the others only its id.
func ReadingSensors(bridge Device, accountHash string, readings []Reading) []GenericSensor {
	var sensors []GenericSensor
	seen := make(map[string]bool)
	for _, r := range readings {
		var dev Device
		if r.PlantId == "" {
			dev = AccountDevice(accountHash)
		} else {
			dev = PlantDevice(r.PlantId)
		}
		if seen[dev.Id] {
			dev = IdDevice(dev)
		} else {
			dev.ViaDevice = bridge.Id
			seen[dev.Id] = true
		}
		d := r.Description
		sensors = append(sensors, GenericSensor{
			Device:            dev,
			Id:                r.SensorId,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              d.Name,
			UniqueId:          r.UniqueId,
			UnitOfMeasurement: d.UnitOfMeasurement,
			StateClass:        d.StateClass,
			DeviceClass:       d.DeviceClass,
			EntityCategory:    d.EntityCategory,
			Icon:              d.Icon,
			Decimals:          d.Decimals,
			JSONState:         d.Cumulative(),
		})
	}
	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	// Poll status
	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(bridgeDevice),
		Id:             SENSOR_ID_POLL_STATUS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Poll status",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:cloud-sync",
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_POLL_STATUS),
	})

	return sensors
}

func BridgeButtons(bridgeDevice Device) []GenericButton {
	return []GenericButton{
		{
			Device:   IdDevice(bridgeDevice),
			Id:       BUTTON_ID_REFRESH,
			Name:     "Refresh",
			UniqueId: uniqueId(bridgeDevice.Id, BUTTON_ID_REFRESH),
			Icon:     "mdi:refresh",
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
