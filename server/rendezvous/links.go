package rendezvous

import "net/netip"

// linkTable stores every link as two directed entries, so a source endpoint resolves to its partner directly.
type linkTable map[netip.AddrPort]netip.AddrPort

func (lt linkTable) Has(ap netip.AddrPort) bool {
	_, ok := lt[ap]
	return ok
}

func (lt linkTable) Partner(ap netip.AddrPort) (netip.AddrPort, bool) {
	p, ok := lt[ap]
	return p, ok
}

func (lt linkTable) Link(a, b netip.AddrPort) {
	lt[a] = b
	lt[b] = a
}

// Unlink removes both directions of the link ap is part of, and returns the partner.
func (lt linkTable) Unlink(ap netip.AddrPort) (netip.AddrPort, bool) {
	p, ok := lt[ap]
	if !ok {
		return netip.AddrPort{}, false
	}

	delete(lt, ap)
	delete(lt, p)

	return p, true
}

// Sessions returns the amount of links, counting each pair once.
func (lt linkTable) Sessions() int {
	return len(lt) / 2
}
