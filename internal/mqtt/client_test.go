package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "fusionsolar",
			HADiscoveryTopic: "homeassistant",
		},
	}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestButtonCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := buttonCommandExtractor("loremTopic")
	cmd, err := parseButtonCommand(r, "loremTopic/button/refresh/press", "PRESS")
	require.NoError(t, err)

	assert.Equal("refresh", cmd.DeviceId, "button extract")
	assert.Equal(COMMAND_PRESS, cmd.Command)
}

func TestButtonCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := buttonCommandExtractor("loremTopic")

	_, err := parseButtonCommand(r, "loremTopic/sensor/refresh/state", "PRESS")
	assert.Error(err, "state topics are not commands")

	_, err = parseButtonCommand(r, "other/loremTopic/button/refresh/press", "PRESS")
	assert.Error(err, "foreign base topic")

	_, err = parseButtonCommand(r, "loremTopic/button/refresh/press", "42")
	assert.Error(err, "unexpected payload")
}

func TestSensorStatePayload(t *testing.T) {
	payload, err := SensorStatePayload(11.204, 2, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"11.20"}`, payload)

	reset := time.Date(2024, 5, 2, 0, 4, 0, 0, time.FixedZone("CEST", 2*3600))
	payload, err = SensorStatePayload(0.1, 2, &reset)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"0.10","last_reset":"2024-05-01T22:04:00Z"}`, payload)
}

func TestDiscoveryMessages(t *testing.T) {
	client := testClient()
	dev := domain.Device{Id: "fusionsolar_plant_abc"}

	sensor := domain.GenericSensor{
		Device:            dev,
		Id:                "plant_abc_productpower",
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Power",
		UniqueId:          "acc-NE=1-productPower",
		UnitOfMeasurement: domain.UNIT_KWH,
		StateClass:        domain.STATE_CLASS_TOTAL,
		Decimals:          2,
		JSONState:         true,
	}
	msg := GenericSensorToHADiscoveryMessage(client, sensor)
	assert.Equal(t, "fusionsolar/sensor/plant_abc_productpower/state", msg.StateTopic)
	assert.Equal(t, "{{ value_json.last_reset }}", msg.LastResetValueTemplate)
	assert.Equal(t, "fusionsolar/bridge/state", msg.AvTopic)
	assert.Equal(t, "homeassistant/sensor/fusionsolar_plant_abc/plant_abc_productpower/config",
		HADiscoverySensorTopic(client.DiscoveryTopic(), sensor))

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"suggested_display_precision":2`)

	button := domain.GenericButton{Device: dev, Id: domain.BUTTON_ID_REFRESH, Name: "Refresh", UniqueId: "uid_refresh"}
	bmsg := GenericButtonToHADiscoveryMessage(client, button)
	assert.Equal(t, "fusionsolar/button/refresh/press", bmsg.CommandTopic)
	assert.Equal(t, MQTT_PAYLOAD_PRESS, bmsg.PayloadPress)
	assert.Empty(t, bmsg.StateTopic)
}
