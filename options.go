package eventfully

import (
	"context"
	"time"
)

const (
	defaultBatchSize        = 50
	defaultPollInterval     = 250 * time.Millisecond
	defaultAcquireInterval  = 5 * time.Second
	defaultRenewInterval    = 20 * time.Second
	defaultWorkers          = 1
	defaultFailureThreshold = 10
)

// FailureHandler is called when delivering or handling a message fails.
type FailureHandler func(ctx context.Context, msg OutboxMessage, err error)

// FatalHandler is called when a worker has failed FailureThreshold
// consecutive times against the store. Workers keep retrying; the handler
// exists for operational alerting.
type FatalHandler func(err error)

// RelayConfig defines how the relay polls, delivers, and retries.
type RelayConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	AcquireInterval  time.Duration
	RenewInterval    time.Duration
	Workers          int
	SendTimeout      time.Duration
	PendingInterval  time.Duration
	FailureThreshold int
	Backoff          BackoffPolicy
	Classifier       FailureClassifier
	ErrorHandler     FailureHandler
	FatalHandler     FatalHandler
	Semaphore        Semaphore
	Clock            Clock
	Logger           Logger
	Metrics          Metrics
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.AcquireInterval <= 0 {
		c.AcquireInterval = defaultAcquireInterval
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = defaultRenewInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier
	}
	if c.Semaphore == nil {
		c.Semaphore = nopSemaphore{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	c.Backoff = c.Backoff.withDefaults()

	return c
}

// RelayOption configures relay behavior.
type RelayOption func(*RelayConfig)

// WithBatchSize sets the number of messages claimed per batch.
func WithBatchSize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PollInterval = interval
	}
}

// WithAcquireInterval sets the delay between denied semaphore acquires.
func WithAcquireInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.AcquireInterval = interval
	}
}

// WithRenewInterval sets how often a worker renews its lease. Keep it well
// under the semaphore timeout.
func WithRenewInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.RenewInterval = interval
	}
}

// WithWorkers sets the number of concurrent relay workers in this process.
func WithWorkers(count int) RelayOption {
	return func(c *RelayConfig) {
		c.Workers = count
	}
}

// WithSendTimeout bounds each transport send.
func WithSendTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.SendTimeout = timeout
	}
}

// WithPendingInterval enables queue-depth sampling at the given minimum
// interval. Zero keeps it disabled.
func WithPendingInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PendingInterval = interval
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(policy BackoffPolicy) RelayOption {
	return func(c *RelayConfig) {
		c.Backoff = policy
	}
}

// WithClassifier sets the transient/permanent failure classifier.
func WithClassifier(classifier FailureClassifier) RelayOption {
	return func(c *RelayConfig) {
		c.Classifier = classifier
	}
}

// WithErrorHandler registers a callback for delivery failures.
func WithErrorHandler(handler FailureHandler) RelayOption {
	return func(c *RelayConfig) {
		c.ErrorHandler = handler
	}
}

// WithFatalHandler registers a callback for sustained store failures.
func WithFatalHandler(handler FatalHandler) RelayOption {
	return func(c *RelayConfig) {
		c.FatalHandler = handler
	}
}

// WithSemaphore gates workers on a distributed semaphore.
func WithSemaphore(sem Semaphore) RelayOption {
	return func(c *RelayConfig) {
		c.Semaphore = sem
	}
}

// WithRelayClock sets the relay time source.
func WithRelayClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithRelayMetrics sets the relay metrics recorder.
func WithRelayMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}

// DispatcherConfig defines how inbound deliveries are handled.
type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	HandlerTimeout  time.Duration
	AcquireInterval time.Duration
	RenewInterval   time.Duration
	IdleInterval    time.Duration
	Codec           Codec
	Semaphore       Semaphore
	Clock           Clock
	Logger          Logger
	Metrics         Metrics
	// Transient, when set, attempts immediate delivery of messages staged by
	// handlers once their transaction commits.
	Transient *TransientDispatcher
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 2
	}
	if c.AcquireInterval <= 0 {
		c.AcquireInterval = defaultAcquireInterval
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = defaultRenewInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultPollInterval
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Semaphore == nil {
		c.Semaphore = nopSemaphore{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// DispatcherOption configures dispatcher behavior.
type DispatcherOption func(*DispatcherConfig)

// WithDispatcherWorkers sets the number of concurrent consumer workers.
func WithDispatcherWorkers(count int) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Workers = count
	}
}

// WithHandlerTimeout bounds each handler or saga invocation.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithDispatcherCodec sets the payload codec.
func WithDispatcherCodec(codec Codec) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Codec = codec
	}
}

// WithDispatcherSemaphore gates consumer workers on a distributed semaphore.
func WithDispatcherSemaphore(sem Semaphore) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Semaphore = sem
	}
}

// WithDispatcherClock sets the dispatcher time source.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Clock = clock
	}
}

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Logger = logger
	}
}

// WithDispatcherMetrics sets the dispatcher metrics recorder.
func WithDispatcherMetrics(metrics Metrics) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Metrics = metrics
	}
}

// WithTransientDispatch enables immediate post-commit delivery of staged
// messages, with the durable outbox row as the fallback path.
func WithTransientDispatch(td *TransientDispatcher) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Transient = td
	}
}
