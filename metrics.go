package eventfully

import "time"

// Metrics captures relay and dispatcher telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to relay one batch.
	ObserveBatchDuration(duration time.Duration)
	// AddDelivered increments the count of delivered messages.
	AddDelivered(count int)
	// AddRetries increments the count of rescheduled messages.
	AddRetries(count int)
	// AddDead increments the count of dead messages.
	AddDead(count int)
	// SetPending updates the current due-message count.
	SetPending(count int)
	// AddHandled increments the count of handled inbound messages.
	AddHandled(count int)
	// AddRejected increments the count of nacked inbound messages.
	AddRejected(count int)
	// AddLeaseDenied increments the count of denied semaphore acquires.
	AddLeaseDenied(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

// AddHandled implements Metrics.
func (NopMetrics) AddHandled(int) {}

// AddRejected implements Metrics.
func (NopMetrics) AddRejected(int) {}

// AddLeaseDenied implements Metrics.
func (NopMetrics) AddLeaseDenied(int) {}
