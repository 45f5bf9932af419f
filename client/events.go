package client

import "net/netip"

// Event is something the user of a Client gets told about.
type Event interface {
	EventName() string
}

type StateEvent struct {
	From State
	To   State
}

func (e StateEvent) EventName() string {
	return "StateEvent"
}

// MessageEvent carries a message received from the partner, with any framing removed.
type MessageEvent struct {
	From    netip.AddrPort
	Text    string
	Relayed bool
}

func (e MessageEvent) EventName() string {
	return "MessageEvent"
}

type ClosedEvent struct {
	// ByPeer is set when the partner ended the session.
	ByPeer bool
}

func (e ClosedEvent) EventName() string {
	return "ClosedEvent"
}
