package domain

import "github.com/jgriss/fusionsolar2mqtt/internal/config"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

const (
	POLLER_STATE_IDLE          = "idle"
	POLLER_STATE_POLLING       = "polling"
	POLLER_STATE_FAILING       = "failing"
	POLLER_STATE_AUTH_REQUIRED = "auth_required"
)

const (
	POLL_STATUS_OK            = "ok"
	POLL_STATUS_ERROR         = "error"
	POLL_STATUS_AUTH_REQUIRED = "auth_required"
)

// PollRequest asks for an immediate poll cycle, outside of the schedule.
type PollRequest struct {
	ActorRequestMixIn
}

type PollResponse struct {
	ActorResponseMixIn
	Readings []Reading
}

// ReauthenticateRequest carries new account credentials. It resumes polling
// after an authentication failure.
type ReauthenticateRequest struct {
	ActorRequestMixIn
	Credentials config.Credentials
}

type ReauthenticateResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Buttons []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
