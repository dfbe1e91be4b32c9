package service

import (
	"math"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
)

// DetectReset folds a new observation into the metric state. A value lower
// than the previous one is taken as a counter restart and moves LastReset to
// now. LastReset never moves backwards.
func DetectReset(prev domain.MetricState, newValue *float64, now time.Time) domain.MetricState {
	if newValue == nil || math.IsNaN(*newValue) {
		return prev
	}
	value := *newValue
	next := domain.MetricState{
		LastValue: &value,
		LastReset: prev.LastReset,
	}
	if prev.LastValue == nil {
		return next
	}
	if value < *prev.LastValue && (prev.LastReset == nil || now.After(*prev.LastReset)) {
		reset := now
		next.LastReset = &reset
	}
	return next
}

func resetAdvanced(prev, next domain.MetricState) bool {
	if next.LastReset == nil {
		return false
	}
	return prev.LastReset == nil || next.LastReset.After(*prev.LastReset)
}
