package client

import "fmt"

// State is the position of a Session in the pairing protocol.
type State int32

const (
	// Unregistered is the initial state, the registration has not been acknowledged yet.
	Unregistered State = iota
	// AwaitingPeer waits for the server to announce the partner.
	AwaitingPeer
	// AwaitingPeerAck has probed the partner and waits for its first datagram.
	AwaitingPeerAck
	// Linked exchanges messages with the partner.
	Linked
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case AwaitingPeer:
		return "awaiting-peer"
	case AwaitingPeerAck:
		return "awaiting-peer-ack"
	case Linked:
		return "linked"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// transitions lists, per state, the states it may move to.
var transitions = map[State][]State{
	Unregistered:    {AwaitingPeer},
	AwaitingPeer:    {AwaitingPeerAck},
	AwaitingPeerAck: {Linked},
	Linked:          {Closed},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
