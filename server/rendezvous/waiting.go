package rendezvous

import "net/netip"

// waitingSet holds unpaired peers in arrival order, indexed by endpoint.
//
// Records only ever leave from the front, so the queue stays sorted by arrival.
type waitingSet struct {
	queue []*peerRecord

	byEndpoint map[netip.AddrPort]*peerRecord
}

func newWaitingSet() *waitingSet {
	return &waitingSet{
		byEndpoint: make(map[netip.AddrPort]*peerRecord),
	}
}

func (w *waitingSet) Has(ap netip.AddrPort) bool {
	_, ok := w.byEndpoint[ap]
	return ok
}

func (w *waitingSet) Len() int {
	return len(w.queue)
}

func (w *waitingSet) Push(r *peerRecord) {
	w.queue = append(w.queue, r)
	w.byEndpoint[r.endpoint] = r
}

// PopOldest removes and returns the record with the smallest arrival number.
func (w *waitingSet) PopOldest() *peerRecord {
	if len(w.queue) == 0 {
		return nil
	}

	r := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]

	delete(w.byEndpoint, r.endpoint)

	return r
}

// Endpoints returns the waiting endpoints, oldest first.
func (w *waitingSet) Endpoints() []netip.AddrPort {
	eps := make([]netip.AddrPort, 0, len(w.queue))
	for _, r := range w.queue {
		eps = append(eps, r.endpoint)
	}
	return eps
}
