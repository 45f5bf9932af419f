package client

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/edup2p/punch/types/msgpunch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	serverAP = netip.MustParseAddrPort("192.0.2.1:9000")
	localAP  = netip.MustParseAddrPort("10.0.0.2:40000")
	peerAP   = netip.MustParseAddrPort("203.0.113.9:51000")
	otherAP  = netip.MustParseAddrPort("198.51.100.77:1234")
)

type sentPacket struct {
	to  netip.AddrPort
	pkt string
}

type recordingWriter struct {
	sent []sentPacket
	err  error
}

func (w *recordingWriter) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.sent = append(w.sent, sentPacket{to: addr, pkt: string(b)})
	return len(b), nil
}

func (w *recordingWriter) take() []sentPacket {
	s := w.sent
	w.sent = nil
	return s
}

type eventLog struct {
	events []Event
}

func (l *eventLog) emit(ev Event) {
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []State {
	var s []State
	for _, ev := range l.events {
		if se, ok := ev.(StateEvent); ok {
			s = append(s, se.To)
		}
	}
	return s
}

func (l *eventLog) messages() []MessageEvent {
	var m []MessageEvent
	for _, ev := range l.events {
		if me, ok := ev.(MessageEvent); ok {
			m = append(m, me)
		}
	}
	return m
}

func newTestSession(t *testing.T, cfg Config) (*Session, *recordingWriter, *eventLog) {
	t.Helper()

	if !cfg.Server.IsValid() {
		cfg.Server = serverAP
	}
	if !cfg.Local.IsValid() {
		cfg.Local = localAP
	}

	w := &recordingWriter{}
	l := &eventLog{}

	s, err := NewSession(cfg, w, l.emit)
	require.NoError(t, err)

	return s, w, l
}

// toAwaitingPeerAck drives a fresh session up to the point it has probed peerAP.
func toAwaitingPeerAck(t *testing.T, s *Session, w *recordingWriter) {
	t.Helper()

	require.NoError(t, s.Start())
	s.OnDatagram([]byte("ok"), serverAP)
	s.OnDatagram([]byte(peerAP.String()), serverAP)
	require.Equal(t, AwaitingPeerAck, s.State())
	w.take()
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, Unregistered.CanTransition(AwaitingPeer))
	assert.True(t, AwaitingPeer.CanTransition(AwaitingPeerAck))
	assert.True(t, AwaitingPeerAck.CanTransition(Linked))
	assert.True(t, Linked.CanTransition(Closed))

	assert.False(t, Unregistered.CanTransition(Linked))
	assert.False(t, AwaitingPeerAck.CanTransition(AwaitingPeer))
	assert.False(t, Linked.CanTransition(Linked))
	assert.False(t, Closed.CanTransition(Unregistered))
	assert.False(t, AwaitingPeer.CanTransition(Closed))
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(Config{}, &recordingWriter{}, nil)
	assert.ErrorIs(t, err, ErrInvalidServer)

	_, err = NewSession(Config{Server: serverAP, Framing: msgpunch.FramingIdentity, PeerID: "a:b"}, &recordingWriter{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPeerID)

	s, err := NewSession(Config{Server: serverAP, Framing: msgpunch.FramingIdentity}, &recordingWriter{}, nil)
	require.NoError(t, err)
	assert.True(t, msgpunch.ValidPeerID(s.PeerID()))
}

func TestSessionDirectLink(t *testing.T) {
	s, w, l := newTestSession(t, Config{})

	require.NoError(t, s.Start())
	assert.Equal(t, []sentPacket{{serverAP, "0"}}, w.take())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	s.OnDatagram([]byte("ok"), serverAP)
	assert.Equal(t, AwaitingPeer, s.State())
	assert.Empty(t, w.take())

	s.OnDatagram([]byte(peerAP.String()), serverAP)
	assert.Equal(t, AwaitingPeerAck, s.State())
	assert.Equal(t, []sentPacket{{peerAP, "init"}, {serverAP, "init"}}, w.take())

	p, ok := s.Peer()
	assert.True(t, ok)
	assert.Equal(t, peerAP, p)
	_, ok = s.Relay()
	assert.False(t, ok)

	s.OnDatagram([]byte("init"), peerAP)
	assert.Equal(t, Linked, s.State())
	assert.Equal(t, []sentPacket{{peerAP, "Message from 10.0.0.2:40000"}}, w.take())

	r, ok := s.Relay()
	assert.True(t, ok)
	assert.Equal(t, peerAP, r)
	assert.False(t, s.Relayed())

	// The probe itself is not a message.
	assert.Empty(t, l.messages())

	s.OnDatagram([]byte("Message from 203.0.113.9:51000"), peerAP)
	require.NoError(t, s.Send([]byte("hello")))
	assert.Equal(t, []sentPacket{{peerAP, "hello"}}, w.take())

	assert.Equal(t, []MessageEvent{{From: peerAP, Text: "Message from 203.0.113.9:51000"}}, l.messages())

	require.NoError(t, s.Exit())
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, []sentPacket{{peerAP, "exit"}, {serverAP, "exit"}}, w.take())

	assert.Equal(t, []State{AwaitingPeer, AwaitingPeerAck, Linked, Closed}, l.states())
	assert.Equal(t, ClosedEvent{ByPeer: false}, l.events[len(l.events)-1])
}

func TestSessionRelayedLink(t *testing.T) {
	s, w, l := newTestSession(t, Config{})
	toAwaitingPeerAck(t, s, w)

	// The partner's hello, forwarded by the server.
	s.OnDatagram([]byte("Message from 203.0.113.9:51000"), serverAP)
	assert.Equal(t, Linked, s.State())
	assert.True(t, s.Relayed())
	assert.Equal(t, []sentPacket{{serverAP, "Message from 10.0.0.2:40000"}}, w.take())
	assert.Equal(t, []MessageEvent{{From: peerAP, Text: "Message from 203.0.113.9:51000", Relayed: true}}, l.messages())

	require.NoError(t, s.Send([]byte("over the relay")))
	assert.Equal(t, []sentPacket{{serverAP, "over the relay"}}, w.take())

	// A relayed exit token is followed by the notice, which is what closes the session.
	s.OnDatagram([]byte("exit"), serverAP)
	assert.Equal(t, Linked, s.State())

	s.OnDatagram([]byte(msgpunch.ExitNotice), serverAP)
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, ClosedEvent{ByPeer: true}, l.events[len(l.events)-1])
	assert.Empty(t, w.take())
}

func TestSessionDirectExitTokenCloses(t *testing.T) {
	s, w, l := newTestSession(t, Config{})
	toAwaitingPeerAck(t, s, w)

	s.OnDatagram([]byte("init"), peerAP)
	w.take()

	s.OnDatagram([]byte("EXIT"), peerAP)
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, ClosedEvent{ByPeer: true}, l.events[len(l.events)-1])

	// Whatever the server sends next is ignored.
	s.OnDatagram([]byte(msgpunch.ExitNotice), serverAP)
	assert.Equal(t, []State{AwaitingPeer, AwaitingPeerAck, Linked, Closed}, l.states())
	assert.Empty(t, w.take())
}

func TestSessionIgnoresUnexpectedDatagrams(t *testing.T) {
	s, w, l := newTestSession(t, Config{})
	require.NoError(t, s.Start())
	w.take()

	// Not from the server, or not an ack.
	s.OnDatagram([]byte("ok"), otherAP)
	s.OnDatagram([]byte(peerAP.String()), serverAP)
	assert.Equal(t, Unregistered, s.State())

	s.OnDatagram([]byte("ok"), serverAP)
	require.Equal(t, AwaitingPeer, s.State())

	// An early probe from the partner, before the server announced it.
	s.OnDatagram([]byte("init"), peerAP)
	assert.Equal(t, AwaitingPeer, s.State())

	s.OnDatagram([]byte(peerAP.String()), serverAP)
	require.Equal(t, AwaitingPeerAck, s.State())
	w.take()

	s.OnDatagram([]byte("init"), otherAP)
	assert.Equal(t, AwaitingPeerAck, s.State())

	s.OnDatagram([]byte("init"), peerAP)
	require.Equal(t, Linked, s.State())
	w.take()

	s.OnDatagram([]byte("spoofed"), otherAP)
	s.OnDatagram([]byte("init"), serverAP)
	assert.Empty(t, l.messages())
	assert.Empty(t, w.take())
	assert.Equal(t, Linked, s.State())
}

func TestSessionHoldsStateOnMalformedAnnouncement(t *testing.T) {
	s, w, _ := newTestSession(t, Config{})
	require.NoError(t, s.Start())
	s.OnDatagram([]byte("ok"), serverAP)
	w.take()

	for _, bad := range []string{"203.0.113.9", "203.0.113.9:port", "203.0.113.9:", "not-an-ip:80", "ok", localAP.String(), serverAP.String()} {
		s.OnDatagram([]byte(bad), serverAP)
		assert.Equal(t, AwaitingPeer, s.State(), bad)
	}
	assert.Empty(t, w.take())

	_, ok := s.Peer()
	assert.False(t, ok)

	s.OnDatagram([]byte(peerAP.String()), serverAP)
	assert.Equal(t, AwaitingPeerAck, s.State())
}

func TestSessionSendBeforeLinked(t *testing.T) {
	s, w, _ := newTestSession(t, Config{})

	assert.ErrorIs(t, s.Send([]byte("too early")), ErrPeerNotConnected)
	assert.ErrorIs(t, s.Exit(), ErrPeerNotConnected)

	toAwaitingPeerAck(t, s, w)
	assert.ErrorIs(t, s.Send([]byte("still early")), ErrPeerNotConnected)
	assert.Empty(t, w.take())

	s.OnDatagram([]byte("init"), peerAP)
	w.take()
	require.NoError(t, s.Send([]byte("now")))
	require.NoError(t, s.Exit())
	w.take()

	assert.ErrorIs(t, s.Send([]byte("too late")), ErrSessionClosed)
	assert.ErrorIs(t, s.Exit(), ErrSessionClosed)
	assert.Empty(t, w.take())
}

func TestSessionSendExitTokenExits(t *testing.T) {
	s, w, _ := newTestSession(t, Config{})
	toAwaitingPeerAck(t, s, w)
	s.OnDatagram([]byte("init"), serverAP)
	w.take()

	require.NoError(t, s.Send([]byte("Exit")))
	assert.Equal(t, Closed, s.State())
	// Relayed, so the server is the only recipient.
	assert.Equal(t, []sentPacket{{serverAP, "exit"}}, w.take())
}

func TestSessionWriteFailureKeepsState(t *testing.T) {
	s, w, _ := newTestSession(t, Config{})
	toAwaitingPeerAck(t, s, w)
	s.OnDatagram([]byte("init"), peerAP)
	w.take()

	w.err = errors.New("no buffer space available")

	err := s.Send([]byte("hello"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPeerNotConnected)
	assert.Equal(t, Linked, s.State())

	assert.Error(t, s.Exit())
	assert.Equal(t, Linked, s.State())

	w.err = nil
	require.NoError(t, s.Exit())
	assert.Equal(t, Closed, s.State())
}

func TestSessionNoRelay(t *testing.T) {
	s, w, _ := newTestSession(t, Config{NoRelay: true})

	require.NoError(t, s.Start())
	s.OnDatagram([]byte("ok"), serverAP)
	s.OnDatagram([]byte(peerAP.String()), serverAP)
	assert.Equal(t, []sentPacket{{serverAP, "0"}, {peerAP, "init"}}, w.take())

	// Relayed traffic does not link the session.
	s.OnDatagram([]byte("init"), serverAP)
	assert.Equal(t, AwaitingPeerAck, s.State())

	s.OnDatagram([]byte("init"), peerAP)
	assert.Equal(t, Linked, s.State())
	w.take()

	require.NoError(t, s.Exit())
	assert.Equal(t, []sentPacket{{peerAP, "exit"}}, w.take())
}

func TestSessionIdentityFraming(t *testing.T) {
	s, w, l := newTestSession(t, Config{Framing: msgpunch.FramingIdentity, PeerID: "alice"})

	require.NoError(t, s.Start())
	assert.Equal(t, []sentPacket{{serverAP, "alice:40000"}}, w.take())

	s.OnDatagram([]byte("ok"), serverAP)

	// Missing id, and our own id.
	s.OnDatagram([]byte(peerAP.String()), serverAP)
	s.OnDatagram([]byte("alice:"+peerAP.String()), serverAP)
	assert.Equal(t, AwaitingPeer, s.State())

	s.OnDatagram([]byte("bob:"+peerAP.String()), serverAP)
	require.Equal(t, AwaitingPeerAck, s.State())
	assert.Equal(t, []sentPacket{{peerAP, "bob:alice:init"}, {serverAP, "bob:alice:init"}}, w.take())

	// Unframed, and framed for someone else.
	s.OnDatagram([]byte("init"), peerAP)
	s.OnDatagram([]byte("carol:bob:init"), peerAP)
	s.OnDatagram([]byte("alice:mallory:init"), peerAP)
	assert.Equal(t, AwaitingPeerAck, s.State())

	s.OnDatagram([]byte("alice:bob:init"), peerAP)
	require.Equal(t, Linked, s.State())
	assert.Equal(t, []sentPacket{{peerAP, "bob:alice:Message from 10.0.0.2:40000"}}, w.take())

	s.OnDatagram([]byte("alice:bob:what time is it? 12:30"), peerAP)
	assert.Equal(t, []MessageEvent{{From: peerAP, Text: "what time is it? 12:30"}}, l.messages())

	require.NoError(t, s.Send([]byte("hi bob")))
	assert.Equal(t, []sentPacket{{peerAP, "bob:alice:hi bob"}}, w.take())

	// The notice is never framed.
	s.OnDatagram([]byte(msgpunch.ExitNotice), serverAP)
	assert.Equal(t, Closed, s.State())
}

func TestSessionDropsInitOnceLinked(t *testing.T) {
	s, w, l := newTestSession(t, Config{})
	toAwaitingPeerAck(t, s, w)

	s.OnDatagram([]byte("init"), peerAP)
	require.Equal(t, Linked, s.State())
	w.take()

	// A late probe over the server and a partner message that reads "init" look the same.
	s.OnDatagram([]byte("init"), serverAP)
	s.OnDatagram([]byte("init"), peerAP)
	s.OnDatagram([]byte("after"), peerAP)

	assert.Equal(t, []MessageEvent{{From: peerAP, Text: "after"}}, l.messages())
	assert.Equal(t, Linked, s.State())
	assert.Empty(t, w.take())
}
