package port

// PollMetrics receives the outcome of poll cycles.
type PollMetrics interface {
	PollSucceeded()
	PollFailed(reason string)
	ResetDetected(metricId string)
	SessionRecreated()
	ConsecutiveFailures(n int)
	StateSaveFailed()
}

type NopPollMetrics struct{}

func (NopPollMetrics) PollSucceeded()          {}
func (NopPollMetrics) PollFailed(string)       {}
func (NopPollMetrics) ResetDetected(string)    {}
func (NopPollMetrics) SessionRecreated()       {}
func (NopPollMetrics) ConsecutiveFailures(int) {}
func (NopPollMetrics) StateSaveFailed()        {}
