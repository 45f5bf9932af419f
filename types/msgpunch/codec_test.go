package msgpunch

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want netip.AddrPort
		err  error
	}{
		{"1.2.3.4:5678", netip.MustParseAddrPort("1.2.3.4:5678"), nil},
		{"[::1]:9000", netip.MustParseAddrPort("[::1]:9000"), nil},
		{"fe80::1:9000", netip.MustParseAddrPort("[fe80::1]:9000"), nil},
		{"[::ffff:10.0.0.1]:80", netip.MustParseAddrPort("10.0.0.1:80"), nil},
		{"1.2.3.4", netip.AddrPort{}, ErrMissingPort},
		{"1.2.3.4:", netip.AddrPort{}, ErrBadPort},
		{"1.2.3.4:http", netip.AddrPort{}, ErrBadPort},
		{"1.2.3.4:+80", netip.AddrPort{}, ErrBadPort},
		{"1.2.3.4:70000", netip.AddrPort{}, ErrBadPort},
		{"1.2.3.4:0", netip.AddrPort{}, ErrBadPort},
		{"example.com:80", netip.AddrPort{}, ErrBadAddr},
		{"ok", netip.AddrPort{}, ErrMissingPort},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseEndpoint([]byte(c.in))
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestFormatEndpoint(t *testing.T) {
	assert.Equal(t, "10.1.2.3:4000", string(FormatEndpoint(netip.MustParseAddrPort("10.1.2.3:4000"))))
	assert.Equal(t, "10.1.2.3:4000", string(FormatEndpoint(netip.MustParseAddrPort("[::ffff:10.1.2.3]:4000"))))
	assert.Equal(t, "[2001:db8::1]:53", string(FormatEndpoint(netip.MustParseAddrPort("[2001:db8::1]:53"))))
}

func TestIsExitToken(t *testing.T) {
	for _, s := range []string{"exit", "EXIT", "Exit", "eXiT"} {
		assert.True(t, IsExitToken([]byte(s)), s)
	}
	for _, s := range []string{"", "exit ", "exits", "quit", " exit"} {
		assert.False(t, IsExitToken([]byte(s)), s)
	}
}

func TestHello(t *testing.T) {
	assert.Equal(t, "Message from 192.168.1.5:40000", string(Hello(netip.MustParseAddrPort("192.168.1.5:40000"))))
}

func TestValidPeerID(t *testing.T) {
	assert.True(t, ValidPeerID("alice"))
	assert.True(t, ValidPeerID("0f0e7a8c-4f59-4a43-9b1e-6c0f5f9d6e11"))
	assert.False(t, ValidPeerID(""))
	assert.False(t, ValidPeerID("a:b"))
}

func TestPlainCodec(t *testing.T) {
	c := NewCodec(FramingPlain)
	assert.Equal(t, FramingPlain, c.Framing())

	assert.Equal(t, Register, string(c.EncodeRegistration(Registration{PeerID: "ignored", ListenPort: 1})))

	_, ok := c.ParseRegistration([]byte("0"))
	assert.True(t, ok)
	_, ok = c.ParseRegistration([]byte("00"))
	assert.False(t, ok)
	_, ok = c.ParseRegistration([]byte("alice:1234"))
	assert.False(t, ok)

	ap := netip.MustParseAddrPort("5.6.7.8:9")
	a, err := c.ParseAnnouncement(c.EncodeAnnouncement(Announcement{Endpoint: ap}))
	require.NoError(t, err)
	assert.Equal(t, ap, a.Endpoint)
	assert.Empty(t, a.PeerID)

	f, err := c.ParseFrame([]byte("a:b:c"))
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", string(f.Text))
	assert.Equal(t, "hello", string(c.EncodeFrame(Frame{Target: "x", Source: "y", Text: []byte("hello")})))

	assert.True(t, IsExit(c, []byte("EXIT")))
	assert.False(t, IsExit(c, []byte("a:b:exit")))
}

func TestIdentityCodecRegistration(t *testing.T) {
	c := NewCodec(FramingIdentity)

	b := c.EncodeRegistration(Registration{PeerID: "alice", ListenPort: 4321})
	assert.Equal(t, "alice:4321", string(b))

	r, ok := c.ParseRegistration(b)
	require.True(t, ok)
	assert.Equal(t, Registration{PeerID: "alice", ListenPort: 4321}, r)

	for _, s := range []string{"0", ":1234", "alice:", "alice:port", "alice:99999", "bob:alice:hi", "bob:alice:5"} {
		_, ok := c.ParseRegistration([]byte(s))
		assert.False(t, ok, s)
	}
}

func TestIdentityCodecAnnouncement(t *testing.T) {
	c := NewCodec(FramingIdentity)

	ap := netip.MustParseAddrPort("[2001:db8::2]:7000")
	b := c.EncodeAnnouncement(Announcement{PeerID: "bob", Endpoint: ap})
	assert.Equal(t, "bob:[2001:db8::2]:7000", string(b))

	a, err := c.ParseAnnouncement(b)
	require.NoError(t, err)
	assert.Equal(t, "bob", a.PeerID)
	assert.Equal(t, ap, a.Endpoint)

	_, err = c.ParseAnnouncement([]byte("1.2.3.4"))
	assert.ErrorIs(t, err, ErrNotIdentified)

	_, err = c.ParseAnnouncement([]byte("bob:1.2.3.4:x"))
	assert.ErrorIs(t, err, ErrBadPort)
}

func TestIdentityCodecFrame(t *testing.T) {
	c := NewCodec(FramingIdentity)

	b := c.EncodeFrame(Frame{Target: "bob", Source: "alice", Text: []byte("time is 12:30")})
	assert.Equal(t, "bob:alice:time is 12:30", string(b))

	f, err := c.ParseFrame(b)
	require.NoError(t, err)
	assert.Equal(t, "bob", f.Target)
	assert.Equal(t, "alice", f.Source)
	assert.Equal(t, "time is 12:30", string(f.Text))

	f, err = c.ParseFrame([]byte("bob:alice:"))
	require.NoError(t, err)
	assert.Empty(t, f.Text)

	for _, s := range []string{"hello", "bob:hello", ":alice:hi", "bob::hi"} {
		_, err := c.ParseFrame([]byte(s))
		assert.ErrorIs(t, err, ErrNotIdentified, s)
	}

	assert.True(t, IsExit(c, []byte("bob:alice:Exit")))
	assert.False(t, IsExit(c, []byte("exit")))
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("Identity")
	require.NoError(t, err)
	assert.Equal(t, FramingIdentity, f)

	f, err = ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingPlain, f)

	_, err = ParseFraming("json")
	assert.ErrorIs(t, err, ErrUnknownFrame)
}
