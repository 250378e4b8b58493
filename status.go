package eventfully

import "fmt"

// Status represents the lifecycle state of an outbox message.
//
// A message moves monotonically Pending|Ready -> (retries) -> Completed|Dead
// and is never resurrected once terminal.
type Status int16

const (
	// StatusReady indicates the message is eligible for relay pickup only.
	StatusReady Status = 0
	// StatusPending indicates the message is eligible for an immediate
	// transient dispatch attempt in addition to relay pickup.
	StatusPending Status = 1
	// StatusCompleted indicates the message was delivered successfully.
	StatusCompleted Status = 2
	// StatusDead indicates the message failed permanently or expired.
	StatusDead Status = -1
)

var statusNames = map[Status]string{
	StatusReady:     "ready",
	StatusPending:   "pending",
	StatusCompleted: "completed",
	StatusDead:      "dead",
}

var statusValues = map[string]Status{
	"ready":     StatusReady,
	"pending":   StatusPending,
	"completed": StatusCompleted,
	"dead":      StatusDead,
}

// String returns the display name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", int16(s))
}

// IsValid reports whether the status is part of the outbox lifecycle.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]

	return ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// ParseStatus converts a display name back to a Status.
func ParseStatus(raw string) (Status, error) {
	status, ok := statusValues[raw]
	if !ok {
		return 0, fmt.Errorf("eventfully: unknown status %q", raw)
	}

	return status, nil
}
