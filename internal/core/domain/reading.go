package domain

import "time"

// Reading is one named metric produced by a poll cycle.
type Reading struct {
	Description SensorDescription
	// empty for account wide readings
	PlantId   string
	UniqueId  string
	SensorId  string
	Value     *float64
	LastReset *time.Time
}

func (r Reading) HasValue() bool {
	return r.Value != nil
}

// UpdateEvent converts a reading with a value into the event published to
// the sinks. LastReset is only exposed for cumulative sensors.
func (r Reading) UpdateEvent() (FloatSensorUpdateEvent, bool) {
	if r.Value == nil {
		return FloatSensorUpdateEvent{}, false
	}
	ev := FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: r.SensorId,
		},
		Value:    *r.Value,
		Decimals: r.Description.Decimals,
	}
	if r.Description.Cumulative() {
		ev.LastReset = r.LastReset
		ev.JSONState = true
	}
	return ev, true
}

// MetricState is the memory kept per metric between poll cycles and process
// restarts.
type MetricState struct {
	LastValue *float64   `json:"last_value,omitempty"`
	LastReset *time.Time `json:"last_reset,omitempty"`
}

func (s MetricState) IsEmpty() bool {
	return s.LastValue == nil && s.LastReset == nil
}

func (s MetricState) Equal(o MetricState) bool {
	return equalFloatPtr(s.LastValue, o.LastValue) && equalTimePtr(s.LastReset, o.LastReset)
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
