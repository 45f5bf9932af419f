// Package msgpunch contains the wire protocol spoken between the rendezvous server and its peers.
//
// All messages are single UTF-8 datagrams without newlines.
package msgpunch

const (
	// Register is the plain-framing registration sent by a client to the server.
	Register = "0"

	// Ack is sent by the server to acknowledge a registration.
	Ack = "ok"

	// Init is the hole-punch probe a client sends to its partner once it learns its endpoint.
	Init = "init"

	// ExitToken requests session teardown, compared case-insensitively.
	ExitToken = "exit"

	// ExitNotice is sent by a relaying server to the partner of a peer that sent ExitToken.
	ExitNotice = "Peer has exited the conversation. Conversation closed."

	// HelloPrefix prefixes the hello a client sends to its partner when the link comes up.
	HelloPrefix = "Message from "
)

// PeerIDSeparator separates the fields of identity-framed messages.
const PeerIDSeparator = ':'
