package rendezvous

import (
	"fmt"
	"net/netip"
	"strings"
)

// Writer is the send half of the server socket.
type Writer interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Mode decides what the server does after pairing two peers.
type Mode int

const (
	// ModeRelay keeps a link between paired peers and forwards their datagrams.
	ModeRelay Mode = iota

	// ModeRendezvous hands out endpoints and forgets both peers.
	ModeRendezvous
)

func (m Mode) String() string {
	switch m {
	case ModeRelay:
		return "relay"
	case ModeRendezvous:
		return "rendezvous"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "relay", "":
		return ModeRelay, nil
	case "rendezvous":
		return ModeRendezvous, nil
	default:
		return 0, fmt.Errorf("unknown server mode %q", s)
	}
}

// peerRecord is a registered peer waiting for a partner.
type peerRecord struct {
	endpoint netip.AddrPort

	// arrival is the monotonic registration counter, oldest pairs first.
	arrival uint64

	// peerID is only set under identity framing.
	peerID string
}
