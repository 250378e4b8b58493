package eventfully

import (
	"context"
	"errors"
	"sync"
)

// MessagingService owns the lifecycle of the relay and dispatcher workers.
// Start launches them in the background; Stop cancels them and waits for a
// graceful exit (leases released, in-flight batches finished or rolled
// back).
type MessagingService struct {
	relay      *Relay
	dispatcher *Dispatcher
	logger     Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErrs []error
}

// NewMessagingService composes a service from an optional relay and an
// optional dispatcher; at least one must be present.
func NewMessagingService(relay *Relay, dispatcher *Dispatcher, logger Logger) (*MessagingService, error) {
	if relay == nil && dispatcher == nil {
		return nil, errors.New("eventfully: messaging service needs a relay or a dispatcher")
	}
	if logger == nil {
		logger = NopLogger{}
	}

	return &MessagingService{
		relay:      relay,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Start launches the workers. It returns immediately; errors from worker
// panics surface on Stop.
func (s *MessagingService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrServiceRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.runErrs = nil

	var wg sync.WaitGroup
	var errsMu sync.Mutex
	record := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("messaging worker stopped", "worker", name, "err", err)
		errsMu.Lock()
		s.runErrs = append(s.runErrs, err)
		errsMu.Unlock()
	}

	if s.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("relay", s.relay.Run(runCtx))
		}()
	}
	if s.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("dispatcher", s.dispatcher.Run(runCtx))
		}()
	}

	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info("messaging service started")

	return nil
}

// Stop cancels the workers and waits for them to exit, returning any errors
// collected during the run. Stopping a stopped service is a no-op.
func (s *MessagingService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("messaging service stopped")

	return errors.Join(s.runErrs...)
}
