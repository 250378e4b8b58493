package eventfully

import "fmt"

// Direction is an endpoint's capability: receiving, sending, or both.
type Direction int

const (
	// Inbound endpoints only receive.
	Inbound Direction = iota + 1
	// Outbound endpoints only send.
	Outbound
	// Both endpoints send and receive.
	Both
)

var directionNames = map[Direction]string{
	Inbound:  "inbound",
	Outbound: "outbound",
	Both:     "both",
}

// String returns the display name of the direction.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}

	return fmt.Sprintf("direction(%d)", int(d))
}

// CanSend reports whether the endpoint may be used as a delivery destination.
func (d Direction) CanSend() bool {
	return d == Outbound || d == Both
}

// CanReceive reports whether the endpoint may be consumed from.
func (d Direction) CanReceive() bool {
	return d == Inbound || d == Both
}

// EndpointSettings is a named, directional binding between message types and
// a transport destination, carrying its own filter chain. Settings are plain
// configuration data constructed by the host; they are read-only after the
// Profile is built.
type EndpointSettings struct {
	// Name identifies the endpoint in outbox rows and logs.
	Name string
	// Address is the transport-specific destination (queue, stream, topic).
	Address string
	// Direction declares the endpoint's capability.
	Direction Direction
	// MessageTypes lists the canonical type strings bound to this endpoint.
	MessageTypes []string
	// Filters is the ordered transform chain, applied forward on send and in
	// reverse on receive.
	Filters []Filter
	// BindsSaga permits saga-bound message types on this endpoint. The
	// dispatcher rejects saga-bound deliveries on endpoints without it.
	BindsSaga bool
}

// Profile is the full endpoint configuration set of a process. It is built
// once at startup and read-only thereafter, so concurrent router lookups
// need no synchronization.
type Profile struct {
	endpoints []EndpointSettings
	byName    map[string]*EndpointSettings
	byType    map[string]*EndpointSettings
}

// NewProfile validates the endpoint set and builds the routing index. Every
// message type may be bound to at most one sendable endpoint.
func NewProfile(endpoints ...EndpointSettings) (*Profile, error) {
	profile := &Profile{
		endpoints: endpoints,
		byName:    make(map[string]*EndpointSettings, len(endpoints)),
		byType:    make(map[string]*EndpointSettings),
	}

	for i := range profile.endpoints {
		endpoint := &profile.endpoints[i]
		if endpoint.Name == "" {
			return nil, fmt.Errorf("eventfully: endpoint name is required")
		}
		if endpoint.Address == "" {
			return nil, fmt.Errorf("eventfully: endpoint %q address is required", endpoint.Name)
		}
		if _, ok := directionNames[endpoint.Direction]; !ok {
			return nil, fmt.Errorf("eventfully: endpoint %q has invalid direction", endpoint.Name)
		}
		if _, exists := profile.byName[endpoint.Name]; exists {
			return nil, fmt.Errorf("eventfully: duplicate endpoint %q", endpoint.Name)
		}
		profile.byName[endpoint.Name] = endpoint

		for _, msgType := range endpoint.MessageTypes {
			if err := ValidateMessageType(msgType); err != nil {
				return nil, err
			}
			if !endpoint.Direction.CanSend() {
				continue
			}
			if bound, exists := profile.byType[msgType]; exists {
				return nil, fmt.Errorf("eventfully: message type %q bound to endpoints %q and %q", msgType, bound.Name, endpoint.Name)
			}
			profile.byType[msgType] = endpoint
		}
	}

	return profile, nil
}

// Resolve maps a message type to its sendable endpoint, or
// ErrEndpointNotFound when no endpoint is bound to the type. A malformed
// type string fails with ErrInvalidMessageType instead.
func (p *Profile) Resolve(messageType string) (*EndpointSettings, error) {
	if err := ValidateMessageType(messageType); err != nil {
		return nil, err
	}

	endpoint, ok := p.byType[messageType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, messageType)
	}

	return endpoint, nil
}

// Endpoint returns an endpoint by name.
func (p *Profile) Endpoint(name string) (*EndpointSettings, bool) {
	endpoint, ok := p.byName[name]

	return endpoint, ok
}

// InboundEndpoints returns the endpoints the dispatcher consumes from.
func (p *Profile) InboundEndpoints() []*EndpointSettings {
	var inbound []*EndpointSettings
	for i := range p.endpoints {
		if p.endpoints[i].Direction.CanReceive() {
			inbound = append(inbound, &p.endpoints[i])
		}
	}

	return inbound
}
