package eventfully

import "context"

// TransientDispatcher attempts immediate in-process delivery of messages
// whose durable rows just committed. It is an optimization layered over the
// relay: every failure is swallowed and the row stays discoverable by the
// relay's FetchDue, so a crash mid-attempt loses nothing.
type TransientDispatcher struct {
	store  TransientCompleter
	sender sender
	logger Logger
}

// NewTransientDispatcher builds a transient dispatcher sharing the relay's
// delivery path.
func NewTransientDispatcher(store TransientCompleter, transport Transport, profile *Profile, logger Logger) *TransientDispatcher {
	if logger == nil {
		logger = NopLogger{}
	}

	return &TransientDispatcher{
		store:  store,
		sender: sender{transport: transport, profile: profile},
		logger: logger,
	}
}

// Dispatch tries to deliver each Pending message once. Messages staged with
// SkipTransientDispatch (status Ready) are left to the relay.
func (t *TransientDispatcher) Dispatch(ctx context.Context, msgs []*OutboxMessage) {
	for _, msg := range msgs {
		if msg.Status != StatusPending {
			continue
		}

		if err := t.sender.deliver(ctx, msg); err != nil {
			t.logger.Debug("transient dispatch failed, leaving message to relay", "id", msg.ID, "type", msg.Type, "err", err)

			continue
		}

		completed, err := t.store.CompleteTransient(ctx, msg.ID)
		if err != nil {
			// The send succeeded but the mark did not: the relay will retry
			// and the transport sees a duplicate, within at-least-once.
			t.logger.Warn("transient completion failed", "id", msg.ID, "err", err)

			continue
		}
		if completed {
			t.logger.Debug("transient dispatch delivered", "id", msg.ID, "type", msg.Type)
		}
	}
}
