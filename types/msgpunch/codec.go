package msgpunch

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/mem"
)

// Framing selects how registrations, announcements and peer messages are laid out on the wire.
//
// The two framings are not interoperable, a server and its clients must agree on one.
type Framing int

const (
	// FramingPlain is the anonymous framing: "0" registers, announcements are "ip:port",
	// and peer messages are sent as-is.
	FramingPlain Framing = iota

	// FramingIdentity tags every message with client-chosen peer ids.
	FramingIdentity
)

func (f Framing) String() string {
	switch f {
	case FramingPlain:
		return "plain"
	case FramingIdentity:
		return "identity"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "plain", "":
		return FramingPlain, nil
	case "identity":
		return FramingIdentity, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFrame, s)
	}
}

// Registration is what a client tells the server when registering.
//
// Both fields are empty under FramingPlain.
type Registration struct {
	PeerID     string
	ListenPort uint16
}

// Announcement tells a client where its partner is, as observed by the server.
type Announcement struct {
	PeerID   string
	Endpoint netip.AddrPort
}

// Frame is a peer-to-peer message after framing has been removed.
type Frame struct {
	Target string
	Source string
	Text   []byte
}

// Codec encodes and decodes the messages whose layout depends on the Framing.
//
// Ack, ExitNotice and the Init/ExitToken texts are never framed differently between codecs,
// only wrapped by Frame.
type Codec interface {
	Framing() Framing

	// EncodeRegistration renders a client registration.
	EncodeRegistration(r Registration) []byte
	// ParseRegistration reports whether pkt is a registration, and returns it if so.
	ParseRegistration(pkt []byte) (Registration, bool)

	EncodeAnnouncement(a Announcement) []byte
	ParseAnnouncement(pkt []byte) (Announcement, error)

	EncodeFrame(f Frame) []byte
	ParseFrame(pkt []byte) (Frame, error)
}

func NewCodec(f Framing) Codec {
	if f == FramingIdentity {
		return IdentityCodec{}
	}

	return PlainCodec{}
}

// IsExit reports whether a peer message carries the exit token.
func IsExit(c Codec, pkt []byte) bool {
	f, err := c.ParseFrame(pkt)
	if err != nil {
		return false
	}

	return IsExitToken(f.Text)
}

type PlainCodec struct{}

func (PlainCodec) Framing() Framing {
	return FramingPlain
}

func (PlainCodec) EncodeRegistration(Registration) []byte {
	return []byte(Register)
}

func (PlainCodec) ParseRegistration(pkt []byte) (Registration, bool) {
	return Registration{}, string(pkt) == Register
}

func (PlainCodec) EncodeAnnouncement(a Announcement) []byte {
	return FormatEndpoint(a.Endpoint)
}

func (PlainCodec) ParseAnnouncement(pkt []byte) (Announcement, error) {
	ap, err := ParseEndpoint(pkt)
	if err != nil {
		return Announcement{}, err
	}

	return Announcement{Endpoint: ap}, nil
}

func (PlainCodec) EncodeFrame(f Frame) []byte {
	return f.Text
}

func (PlainCodec) ParseFrame(pkt []byte) (Frame, error) {
	return Frame{Text: pkt}, nil
}

type IdentityCodec struct{}

func (IdentityCodec) Framing() Framing {
	return FramingIdentity
}

func (IdentityCodec) EncodeRegistration(r Registration) []byte {
	return []byte(r.PeerID + string(PeerIDSeparator) + strconv.Itoa(int(r.ListenPort)))
}

// ParseRegistration accepts "<peerId>:<listenPort>". A listen port of 0 is allowed, it is informational only.
func (IdentityCodec) ParseRegistration(pkt []byte) (Registration, bool) {
	m := mem.B(pkt)

	i := mem.IndexByte(m, PeerIDSeparator)
	if i <= 0 {
		return Registration{}, false
	}

	portM := m.SliceFrom(i + 1)
	if portM.Len() == 0 || mem.IndexByte(portM, PeerIDSeparator) >= 0 {
		return Registration{}, false
	}

	port, err := mem.ParseUint(portM, 10, 16)
	if err != nil {
		return Registration{}, false
	}

	return Registration{
		PeerID:     m.SliceTo(i).StringCopy(),
		ListenPort: uint16(port),
	}, true
}

func (IdentityCodec) EncodeAnnouncement(a Announcement) []byte {
	return append([]byte(a.PeerID+string(PeerIDSeparator)), FormatEndpoint(a.Endpoint)...)
}

func (IdentityCodec) ParseAnnouncement(pkt []byte) (Announcement, error) {
	m := mem.B(pkt)

	i := mem.IndexByte(m, PeerIDSeparator)
	if i <= 0 {
		return Announcement{}, ErrNotIdentified
	}

	ap, err := parseEndpoint(m.SliceFrom(i + 1))
	if err != nil {
		return Announcement{}, err
	}

	return Announcement{
		PeerID:   m.SliceTo(i).StringCopy(),
		Endpoint: ap,
	}, nil
}

func (IdentityCodec) EncodeFrame(f Frame) []byte {
	b := make([]byte, 0, len(f.Target)+len(f.Source)+2+len(f.Text))
	b = append(b, f.Target...)
	b = append(b, PeerIDSeparator)
	b = append(b, f.Source...)
	b = append(b, PeerIDSeparator)
	return append(b, f.Text...)
}

// ParseFrame splits "<target>:<source>:<text>". The text may itself contain colons.
func (IdentityCodec) ParseFrame(pkt []byte) (Frame, error) {
	m := mem.B(pkt)

	i := mem.IndexByte(m, PeerIDSeparator)
	if i <= 0 {
		return Frame{}, ErrNotIdentified
	}

	rest := m.SliceFrom(i + 1)

	j := mem.IndexByte(rest, PeerIDSeparator)
	if j <= 0 {
		return Frame{}, ErrNotIdentified
	}

	return Frame{
		Target: m.SliceTo(i).StringCopy(),
		Source: rest.SliceTo(j).StringCopy(),
		Text:   pkt[i+1+j+1:],
	}, nil
}
