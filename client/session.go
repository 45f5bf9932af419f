// Package client implements the peer side of the rendezvous protocol: registering with the server,
// learning the partner's endpoint, punching through to it (or falling back to the server as relay),
// and exchanging messages once linked.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/punch/types"
	"github.com/edup2p/punch/types/msgpunch"
	"github.com/google/uuid"
)

// Writer is the send half of the client socket.
type Writer interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

type Config struct {
	// Server is the rendezvous server endpoint.
	Server netip.AddrPort

	// Local is the client's own socket address, reported in the hello message.
	Local netip.AddrPort

	Framing msgpunch.Framing

	// PeerID identifies this client under identity framing, a random UUID is used if empty.
	PeerID string

	// NoRelay disables the probe through the server, so the session only links directly.
	NoRelay bool
}

// Session is the client state machine. It is not safe for concurrent use, Client serialises access to it.
type Session struct {
	cfg   Config
	codec msgpunch.Codec
	out   Writer
	emit  func(Event)

	started bool
	state   State

	peer gonull.Nullable[netip.AddrPort]
	// relay is where outgoing messages go, the partner itself or the server.
	relay gonull.Nullable[netip.AddrPort]

	partnerID string
}

// NewSession creates an Unregistered session writing to out. emit may be nil.
func NewSession(cfg Config, out Writer, emit func(Event)) (*Session, error) {
	if !cfg.Server.IsValid() || cfg.Server.Port() == 0 {
		return nil, ErrInvalidServer
	}
	cfg.Server = types.NormaliseAddrPort(cfg.Server)
	cfg.Local = types.NormaliseAddrPort(cfg.Local)

	if cfg.Framing == msgpunch.FramingIdentity {
		if cfg.PeerID == "" {
			cfg.PeerID = uuid.NewString()
		}
		if !msgpunch.ValidPeerID(cfg.PeerID) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPeerID, cfg.PeerID)
		}
	}

	if emit == nil {
		emit = func(Event) {}
	}

	return &Session{
		cfg:   cfg,
		codec: msgpunch.NewCodec(cfg.Framing),
		out:   out,
		emit:  emit,
		state: Unregistered,
	}, nil
}

func (s *Session) L() *slog.Logger {
	return L(s).With("state", s.state.String())
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) PeerID() string {
	return s.cfg.PeerID
}

// Peer returns the partner endpoint, once announced.
func (s *Session) Peer() (netip.AddrPort, bool) {
	return s.peer.Val, s.peer.Valid
}

// Relay returns where outgoing messages are sent, once linked.
func (s *Session) Relay() (netip.AddrPort, bool) {
	return s.relay.Val, s.relay.Valid
}

// Relayed reports whether the session is linked through the server.
func (s *Session) Relayed() bool {
	return s.relay.Valid && s.relay.Val == s.cfg.Server
}

// Start sends the registration to the server.
func (s *Session) Start() error {
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	reg := s.codec.EncodeRegistration(msgpunch.Registration{
		PeerID:     s.cfg.PeerID,
		ListenPort: s.cfg.Local.Port(),
	})

	s.L().Info("registering with server", "server", s.cfg.Server, "peer-id", s.cfg.PeerID)

	if err := s.write(reg, s.cfg.Server); err != nil {
		return fmt.Errorf("could not send registration: %w", err)
	}

	return nil
}

// OnDatagram handles one inbound datagram. Anything unexpected for the current state is logged and ignored.
func (s *Session) OnDatagram(pkt []byte, src netip.AddrPort) {
	src = types.NormaliseAddrPort(src)

	switch s.state {
	case Unregistered:
		s.onUnregistered(pkt, src)
	case AwaitingPeer:
		s.onAwaitingPeer(pkt, src)
	case AwaitingPeerAck:
		s.onAwaitingPeerAck(pkt, src)
	case Linked:
		s.onLinked(pkt, src)
	case Closed:
		s.L().Log(context.Background(), types.LevelTrace, "ignoring datagram on closed session", "from", src)
	}
}

func (s *Session) onUnregistered(pkt []byte, src netip.AddrPort) {
	if src != s.cfg.Server || string(pkt) != msgpunch.Ack {
		s.unexpected(pkt, src)
		return
	}

	s.L().Info("connected to the server, waiting for peer...")
	s.transition(AwaitingPeer)
}

func (s *Session) onAwaitingPeer(pkt []byte, src netip.AddrPort) {
	if src != s.cfg.Server {
		// Usually the partner's probe, racing its own announcement.
		s.unexpected(pkt, src)
		return
	}

	a, err := s.codec.ParseAnnouncement(pkt)
	if err != nil {
		s.L().Warn("malformed peer announcement", "from", src, "payload", string(pkt), "error", err)
		return
	}

	if a.Endpoint == s.cfg.Server || (s.cfg.Local.IsValid() && a.Endpoint == s.cfg.Local) {
		s.L().Warn("peer announcement names ourselves or the server", "peer", a.Endpoint)
		return
	}

	if s.codec.Framing() == msgpunch.FramingIdentity && (!msgpunch.ValidPeerID(a.PeerID) || a.PeerID == s.cfg.PeerID) {
		s.L().Warn("peer announcement has unusable peer id", "peer-id", a.PeerID)
		return
	}

	s.peer = gonull.NewNullable(a.Endpoint)
	s.partnerID = a.PeerID

	probe := s.frame([]byte(msgpunch.Init))

	if err := s.write(probe, a.Endpoint); err != nil {
		s.L().Warn("could not probe peer", "peer", a.Endpoint, "error", err)
	} else {
		s.L().Info("sent init", "peer", a.Endpoint)
	}

	if !s.cfg.NoRelay {
		if err := s.write(probe, s.cfg.Server); err != nil {
			s.L().Warn("could not probe peer through server", "server", s.cfg.Server, "error", err)
		}
	}

	s.transition(AwaitingPeerAck)
}

func (s *Session) onAwaitingPeerAck(pkt []byte, src netip.AddrPort) {
	direct := src == s.peer.Val
	if !direct && (src != s.cfg.Server || s.cfg.NoRelay) {
		s.unexpected(pkt, src)
		return
	}

	if !direct && string(pkt) == msgpunch.ExitNotice {
		s.L().Warn("peer exited before the link came up")
		return
	}

	text, ok := s.unframe(pkt, src)
	if !ok {
		return
	}

	s.relay = gonull.NewNullable(src)

	s.L().Info("peer reachable", "peer", s.peer.Val, "via", src, "relayed", !direct)
	s.transition(Linked)

	if string(text) != msgpunch.Init {
		s.surface(text, src, !direct)
	}

	if err := s.write(s.frame(msgpunch.Hello(s.cfg.Local)), src); err != nil {
		s.L().Warn("could not send hello", "to", src, "error", err)
	}
}

func (s *Session) onLinked(pkt []byte, src netip.AddrPort) {
	direct := src == s.peer.Val
	if !direct && src != s.cfg.Server {
		s.unexpected(pkt, src)
		return
	}

	if !direct && string(pkt) == msgpunch.ExitNotice {
		s.L().Info(msgpunch.ExitNotice)
		s.close(true)
		return
	}

	text, ok := s.unframe(pkt, src)
	if !ok {
		return
	}

	switch {
	case string(text) == msgpunch.Init:
		// Late probe from the path we did not pick.
		s.L().Log(context.Background(), types.LevelTrace, "dropping late init", "from", src)
	case msgpunch.IsExitToken(text) && direct:
		// No server is involved on a direct link, so no exit notice will follow.
		s.L().Info("peer has exited the conversation")
		s.close(true)
	case msgpunch.IsExitToken(text):
		s.L().Debug("relayed exit token, waiting for the server's notice")
	default:
		s.surface(text, src, !direct)
	}
}

// Send sends text to the partner. Sending the exit token is the same as Exit.
func (s *Session) Send(text []byte) error {
	if err := s.checkLinked(); err != nil {
		return err
	}

	if msgpunch.IsExitToken(text) {
		return s.Exit()
	}

	if err := s.write(s.frame(text), s.relay.Val); err != nil {
		return fmt.Errorf("could not send message: %w", err)
	}

	return nil
}

// Exit ends the session: the exit token goes to the partner, and the session closes.
//
// On a direct link the server also gets the token, so a relaying server can release the link.
func (s *Session) Exit() error {
	if err := s.checkLinked(); err != nil {
		return err
	}

	exit := s.frame([]byte(msgpunch.ExitToken))

	if err := s.write(exit, s.relay.Val); err != nil {
		return fmt.Errorf("could not send exit: %w", err)
	}

	if !s.Relayed() && !s.cfg.NoRelay {
		if err := s.write(exit, s.cfg.Server); err != nil {
			s.L().Warn("could not tell server about exit", "error", err)
		}
	}

	s.close(false)

	return nil
}

func (s *Session) checkLinked() error {
	switch s.state {
	case Linked:
		return nil
	case Closed:
		return ErrSessionClosed
	default:
		return ErrPeerNotConnected
	}
}

func (s *Session) close(byPeer bool) {
	if s.transition(Closed) {
		s.emit(ClosedEvent{ByPeer: byPeer})
	}
}

func (s *Session) transition(to State) bool {
	from := s.state

	if !from.CanTransition(to) {
		s.L().Error("refusing illegal state transition", "from", from.String(), "to", to.String())
		return false
	}

	s.state = to
	s.L().Debug("state transition", "from", from.String(), "to", to.String())
	s.emit(StateEvent{From: from, To: to})

	return true
}

func (s *Session) surface(text []byte, src netip.AddrPort, relayed bool) {
	s.emit(MessageEvent{
		From:    s.peer.Val,
		Text:    string(text),
		Relayed: relayed,
	})
	s.L().Debug("received message", "via", src, "len", len(text))
}

func (s *Session) frame(text []byte) []byte {
	return s.codec.EncodeFrame(msgpunch.Frame{
		Target: s.partnerID,
		Source: s.cfg.PeerID,
		Text:   text,
	})
}

// unframe removes framing from a partner message, checking the ids under identity framing.
func (s *Session) unframe(pkt []byte, src netip.AddrPort) ([]byte, bool) {
	f, err := s.codec.ParseFrame(pkt)
	if err != nil {
		s.L().Warn("malformed peer message", "from", src, "error", err)
		return nil, false
	}

	if s.codec.Framing() == msgpunch.FramingIdentity && (f.Source != s.partnerID || f.Target != s.cfg.PeerID) {
		s.L().Warn("peer message with unexpected ids", "from", src, "source", f.Source, "target", f.Target)
		return nil, false
	}

	return f.Text, true
}

func (s *Session) unexpected(pkt []byte, src netip.AddrPort) {
	s.L().Debug("ignoring unexpected datagram", "from", src, "len", len(pkt))
}

func (s *Session) write(pkt []byte, to netip.AddrPort) error {
	if _, err := s.out.WriteToUDPAddrPort(pkt, to); err != nil {
		s.L().Warn("error writing to socket", "to", to, "error", err)
		return err
	}
	return nil
}
