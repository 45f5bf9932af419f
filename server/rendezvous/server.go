// Package rendezvous implements the rendezvous server, which pairs registering peers in arrival order,
// tells each the public endpoint of the other, and in relay mode keeps forwarding datagrams between them.
//
// All state is owned by the goroutine calling OnDatagram, which is Serve's read loop.
package rendezvous

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/edup2p/punch/types"
	"github.com/edup2p/punch/types/msgpunch"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Mode    Mode
	Framing msgpunch.Framing

	// Registerer receives the server metrics, a private registry is used if nil.
	Registerer prometheus.Registerer
}

type Server struct {
	mode  Mode
	codec msgpunch.Codec

	out  Writer
	conn types.UDPConn

	waiting *waitingSet
	links   linkTable

	// nextArrival is handed to the next accepted registration.
	nextArrival uint64

	// Identity framing only, ids of waiting and linked peers.
	idToEndpoint map[string]netip.AddrPort
	endpointToID map[netip.AddrPort]string

	metrics *Metrics
}

func NewServer(cfg Config) *Server {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Server{
		mode:         cfg.Mode,
		codec:        msgpunch.NewCodec(cfg.Framing),
		waiting:      newWaitingSet(),
		links:        make(linkTable),
		idToEndpoint: make(map[string]netip.AddrPort),
		endpointToID: make(map[netip.AddrPort]string),
		metrics:      NewMetrics(reg),
	}
}

func (s *Server) L() *slog.Logger {
	return slog.With("component", fmt.Sprintf("%T", s), "mode", s.mode.String())
}

func (s *Server) Mode() Mode {
	return s.mode
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// OnDatagram handles one inbound datagram to completion.
//
// pkt is not retained after OnDatagram returns.
func (s *Server) OnDatagram(pkt []byte, src netip.AddrPort) {
	src = types.NormaliseAddrPort(src)

	defer s.updateGauges()

	if reg, ok := s.codec.ParseRegistration(pkt); ok {
		s.register(src, reg)
		return
	}

	if s.mode != ModeRelay {
		s.L().Log(context.Background(), types.LevelTrace, "dropping non-registration datagram", "from", src)
		s.metrics.Dropped.WithLabelValues(DropNoRelay).Inc()
		return
	}

	s.forward(pkt, src)
}

func (s *Server) register(src netip.AddrPort, reg msgpunch.Registration) {
	if s.waiting.Has(src) || s.links.Has(src) {
		s.L().Debug("ignoring registration from known peer", "from", src)
		s.metrics.IgnoredRegistrations.Inc()
		return
	}

	if s.codec.Framing() == msgpunch.FramingIdentity {
		if bound, ok := s.idToEndpoint[reg.PeerID]; ok {
			s.L().Warn("ignoring registration with peer id already in use", "from", src, "peer-id", reg.PeerID, "bound-to", bound)
			s.metrics.IgnoredRegistrations.Inc()
			return
		}
	}

	s.L().Info("registration", "from", src, "peer-id", reg.PeerID, "listen-port", reg.ListenPort)

	s.send([]byte(msgpunch.Ack), src)

	s.waiting.Push(&peerRecord{
		endpoint: src,
		arrival:  s.nextArrival,
		peerID:   reg.PeerID,
	})
	s.nextArrival++
	s.metrics.Registrations.Inc()

	if s.codec.Framing() == msgpunch.FramingIdentity {
		s.bindID(reg.PeerID, src)
	}

	if s.waiting.Len() >= 2 {
		s.pair(s.waiting.PopOldest(), s.waiting.PopOldest())
	}
}

// pair announces a and b to each other, and links them in relay mode.
func (s *Server) pair(a, b *peerRecord) {
	s.send(s.codec.EncodeAnnouncement(msgpunch.Announcement{PeerID: b.peerID, Endpoint: b.endpoint}), a.endpoint)
	s.send(s.codec.EncodeAnnouncement(msgpunch.Announcement{PeerID: a.peerID, Endpoint: a.endpoint}), b.endpoint)

	if s.mode == ModeRelay {
		s.links.Link(a.endpoint, b.endpoint)
	} else {
		s.unbindID(a.endpoint)
		s.unbindID(b.endpoint)
	}

	s.metrics.Pairings.Inc()

	s.L().Info("linked peers", "a", a.endpoint, "b", b.endpoint, "a-arrival", a.arrival, "b-arrival", b.arrival)
}

func (s *Server) forward(pkt []byte, src netip.AddrPort) {
	dst, ok := s.links.Partner(src)
	if !ok {
		s.L().Debug("dropping datagram from unknown origin", "from", src)
		s.metrics.Dropped.WithLabelValues(DropUnknownOrigin).Inc()
		return
	}

	if !s.validRelayFrame(pkt, src, dst) {
		s.L().Debug("dropping malformed relay frame", "from", src, "to", dst)
		s.metrics.Dropped.WithLabelValues(DropMalformed).Inc()
		return
	}

	s.send(pkt, dst)
	s.metrics.Forwarded.Inc()

	if !msgpunch.IsExit(s.codec, pkt) {
		return
	}

	s.send([]byte(msgpunch.ExitNotice), dst)

	s.links.Unlink(src)
	s.unbindID(src)
	s.unbindID(dst)

	s.metrics.Exits.Inc()

	s.L().Info("peer exited, link closed", "from", src, "partner", dst)
}

// validRelayFrame checks, under identity framing, that the frame names the linked pair.
func (s *Server) validRelayFrame(pkt []byte, src, dst netip.AddrPort) bool {
	if s.codec.Framing() != msgpunch.FramingIdentity {
		return true
	}

	f, err := s.codec.ParseFrame(pkt)
	if err != nil {
		return false
	}

	return f.Source == s.endpointToID[src] && f.Target == s.endpointToID[dst]
}

func (s *Server) bindID(id string, ap netip.AddrPort) {
	s.idToEndpoint[id] = ap
	s.endpointToID[ap] = id
}

func (s *Server) unbindID(ap netip.AddrPort) {
	if id, ok := s.endpointToID[ap]; ok {
		delete(s.endpointToID, ap)
		delete(s.idToEndpoint, id)
	}
}

func (s *Server) send(pkt []byte, to netip.AddrPort) {
	if s.out == nil {
		s.L().Error("no socket to write to", "to", to)
		return
	}

	if _, err := s.out.WriteToUDPAddrPort(pkt, to); err != nil {
		s.L().Warn("error writing to socket", "to", to, "error", err)
		s.metrics.WriteErrors.Inc()
	}
}

func (s *Server) updateGauges() {
	s.metrics.Waiting.Set(float64(s.waiting.Len()))
	s.metrics.Links.Set(float64(s.links.Sessions()))
}
