package rendezvous

import (
	"fmt"
	"net/netip"
	"slices"

	"golang.org/x/exp/maps"
)

// Snapshot is a copy of the server's bookkeeping.
type Snapshot struct {
	// Waiting is in arrival order.
	Waiting []netip.AddrPort

	// Links holds both directions of every link.
	Links map[netip.AddrPort]netip.AddrPort

	// PeerIDs is empty under plain framing.
	PeerIDs map[string]netip.AddrPort
}

// Snapshot copies the current state. It must be called from the goroutine that calls OnDatagram,
// or while the server is not serving.
func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Waiting: s.waiting.Endpoints(),
		Links:   maps.Clone(map[netip.AddrPort]netip.AddrPort(s.links)),
		PeerIDs: maps.Clone(s.idToEndpoint),
	}
}

// Check verifies that every endpoint is either waiting, linked, or unknown, and that links are symmetric.
func (sn Snapshot) Check() error {
	seen := make(map[netip.AddrPort]bool, len(sn.Waiting))

	for _, ap := range sn.Waiting {
		if seen[ap] {
			return fmt.Errorf("%v waiting twice", ap)
		}
		seen[ap] = true

		if _, ok := sn.Links[ap]; ok {
			return fmt.Errorf("%v both waiting and linked", ap)
		}
	}

	froms := maps.Keys(sn.Links)
	slices.SortFunc(froms, func(a, b netip.AddrPort) int { return a.Compare(b) })

	for _, from := range froms {
		to := sn.Links[from]

		if from == to {
			return fmt.Errorf("%v linked to itself", from)
		}

		if back, ok := sn.Links[to]; !ok || back != from {
			return fmt.Errorf("link %v -> %v has no reverse entry", from, to)
		}
	}

	for id, ap := range sn.PeerIDs {
		if _, linked := sn.Links[ap]; !linked && !seen[ap] {
			return fmt.Errorf("peer id %q bound to unknown endpoint %v", id, ap)
		}
	}

	return nil
}
