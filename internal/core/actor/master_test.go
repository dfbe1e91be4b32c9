package actor

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	adactor "github.com/jgriss/fusionsolar2mqtt/internal/adapter/actor"
	"github.com/jgriss/fusionsolar2mqtt/internal/adapter/source"
	"github.com/jgriss/fusionsolar2mqtt/internal/adapter/store"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/service"
	"github.com/jgriss/fusionsolar2mqtt/internal/mqtt"
	"github.com/jgriss/fusionsolar2mqtt/internal/util"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func findMessage(messages []adactor.RawMessage, topic string) (adactor.RawMessage, bool) {
	for _, m := range messages {
		if m.Topic == topic {
			return m, true
		}
	}
	return adactor.RawMessage{}, false
}

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	client := fusionsolar.NewTestClient()
	reconciler := service.NewReconciler(service.ReconcilerConfig{
		Credentials:  cfg.FusionSolar.Credentials(),
		FetchTimeout: time.Second,
	}, source.NewClientFactory(client, logger), store.NewMemoryStore(), logger)

	var mu sync.Mutex
	var mqttActor *adactor.MQTTActor
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, reconciler, func(es *eventstream.EventStream) actor.Actor {
			mu.Lock()
			defer mu.Unlock()
			mqttActor = adactor.NewTestMQTTActor(&cfg, es, logger)
			return mqttActor
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, domain.POLLER_STATE_IDLE, healthResp.State)

	mu.Lock()
	published := mqttActor.Published()
	mu.Unlock()

	bridge := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	_, ok = findMessage(published, fmt.Sprintf("homeassistant/binary_sensor/%s/bridge/config", bridge.Id))
	assert.True(t, ok, "bridge discovery published")
	_, ok = findMessage(published, fmt.Sprintf("homeassistant/button/%s/refresh/config", bridge.Id))
	assert.True(t, ok, "refresh button discovery published")

	accountDevice := domain.AccountDevice(domain.AccountHash(cfg.FusionSolar.Credentials()))
	discovery, ok := findMessage(published, fmt.Sprintf("homeassistant/sensor/%s/total_power_today_kwh/config", accountDevice.Id))
	require.True(t, ok, "energy sensor discovery published")
	assert.True(t, discovery.Retain)
	assert.Contains(t, discovery.Payload, `"last_reset_value_template":"{{ value_json.last_reset }}"`)

	state, ok := findMessage(published, "fusionsolar/sensor/total_power_today_kwh/state")
	require.True(t, ok, "energy sensor state published")
	assert.Equal(t, `{"value":"11.20"}`, state.Payload)
	assert.True(t, state.Retain, "states are retained for late subscribers")

	status, ok := findMessage(published, "fusionsolar/sensor/poll_status/state")
	require.True(t, ok)
	assert.Equal(t, domain.POLL_STATUS_OK, status.Payload)

	// refresh button press triggers a poll
	calls := client.CallCount()
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_REFRESH,
		Command:  mqtt.COMMAND_PRESS,
	}})
	time.Sleep(500 * time.Millisecond)
	assert.Greater(t, client.CallCount(), calls)

	// manual refresh through the master
	res, err = context.RequestFuture(pid, domain.PollRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	pollResp, ok := res.(domain.PollResponse)
	require.True(t, ok)
	assert.False(t, pollResp.HasResponseError())

	states := 0
	mu.Lock()
	for _, m := range mqttActor.Published() {
		if strings.HasSuffix(m.Topic, "/total_power_today_kwh/state") {
			states++
		}
	}
	mu.Unlock()
	assert.GreaterOrEqual(t, states, 3)

	context.Stop(pid)

	as.Shutdown()
}
