package replier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshreplier/internal/mesh"
)

var fixedNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.Local)

func never(mesh.NodeID) bool  { return false }
func always(mesh.NodeID) bool { return true }

func directText(from, to mesh.NodeID, text string) Classification {
	return Classify(mesh.Packet{
		From:     from,
		To:       to,
		HopStart: 3,
		HopLimit: 3,
		Payload:  mesh.TextPayload{Text: text},
	}, self)
}

func TestDecideNoReplyForTelemetryAndPosition(t *testing.T) {
	for _, cat := range []Category{CategoryTelemetry, CategoryPosition} {
		for _, toSelf := range []bool{true, false} {
			for _, contacted := range []func(mesh.NodeID) bool{never, always} {
				c := Classification{
					Category:        cat,
					AddressedToSelf: toSelf,
					Relay:           mesh.Relay{Kind: mesh.RelayDirect},
					Text:            "ping",
				}
				d := Decide(c, 0x1234, nil, contacted, DefaultMessages(), fixedNow)
				assert.Empty(t, d.Replies, "category %s", cat)
				assert.False(t, d.GreetSender)
				assert.Equal(t, KindNone, d.Kind)
			}
		}
	}
}

func TestDecidePing(t *testing.T) {
	for _, text := range []string{"ping", " PING ", "Ping\n", "\tpInG"} {
		c := directText(0x1a2b3c4d, self, text)
		d := Decide(c, 0x1a2b3c4d, &mesh.Signal{SNR: 6.25, RSSI: -87}, never, DefaultMessages(), fixedNow)

		require.Len(t, d.Replies, 1, "text %q", text)
		reply := d.Replies[0]
		to, ok := reply.To.Node()
		require.True(t, ok)
		assert.Equal(t, mesh.NodeID(0x1a2b3c4d), to)
		assert.True(t, strings.HasPrefix(reply.Text, "pong"))
		assert.True(t, reply.WantAck)
		assert.Equal(t, KindPong, d.Kind)
		assert.False(t, d.GreetSender)
	}
}

func TestDecideCannedForOtherDirectText(t *testing.T) {
	msgs := Messages{Canned: "ask the admins", EventInfo: "event", Onboarding: "onboard"}

	for _, text := range []string{"hello", "", "ping please", "pong"} {
		c := directText(0x42, self, text)
		d := Decide(c, 0x42, nil, never, msgs, fixedNow)

		require.Len(t, d.Replies, 1, "text %q", text)
		assert.Equal(t, "ask the admins", d.Replies[0].Text)
		assert.True(t, d.Replies[0].WantAck)
		assert.Equal(t, KindCanned, d.Kind)
		assert.False(t, d.GreetSender)
	}
}

func TestDecideGreetsUnknownDirectSender(t *testing.T) {
	msgs := Messages{Canned: "canned", EventInfo: "event", Onboarding: "onboard"}
	c := directText(0xdeadbeef, mesh.Broadcast, "hello")

	d := Decide(c, 0xdeadbeef, nil, never, msgs, fixedNow)

	require.Len(t, d.Replies, 2)
	assert.Equal(t, "event", d.Replies[0].Text)
	assert.Equal(t, "onboard", d.Replies[1].Text)
	for _, reply := range d.Replies {
		to, ok := reply.To.Node()
		require.True(t, ok)
		assert.Equal(t, mesh.NodeID(0xdeadbeef), to)
		assert.True(t, reply.WantAck)
	}
	assert.True(t, d.GreetSender)
	assert.Equal(t, KindGreeting, d.Kind)
}

func TestDecideSkipsKnownOrRelayedSender(t *testing.T) {
	known := Decide(directText(0xdeadbeef, mesh.Broadcast, "hello"), 0xdeadbeef, nil, always, DefaultMessages(), fixedNow)
	assert.Empty(t, known.Replies)
	assert.False(t, known.GreetSender)

	relayed := Classify(mesh.Packet{
		From:     0xdeadbeef,
		To:       mesh.Broadcast,
		HopStart: 3,
		HopLimit: 2,
		Payload:  mesh.TextPayload{Text: "hello"},
	}, self)
	d := Decide(relayed, 0xdeadbeef, nil, never, DefaultMessages(), fixedNow)
	assert.Empty(t, d.Replies)
	assert.False(t, d.GreetSender)
}

func TestDecideContactedNotConsultedForSelfAddressedText(t *testing.T) {
	called := false
	contacted := func(mesh.NodeID) bool {
		called = true
		return true
	}

	d := Decide(directText(0x42, self, "ping"), 0x42, nil, contacted, DefaultMessages(), fixedNow)

	require.Len(t, d.Replies, 1)
	assert.False(t, called)
}

func TestDecideOtherCategory(t *testing.T) {
	c := Classification{Category: CategoryOther, AddressedToSelf: true, Relay: mesh.Relay{Kind: mesh.RelayDirect}}

	d := Decide(c, 0x42, nil, never, DefaultMessages(), fixedNow)

	assert.Empty(t, d.Replies)
}

func TestPongText(t *testing.T) {
	tests := []struct {
		name   string
		signal *mesh.Signal
		relay  mesh.Relay
		want   string
	}{
		{
			name:   "direct with signal",
			signal: &mesh.Signal{SNR: 6.25, RSSI: -87},
			relay:  mesh.Relay{Kind: mesh.RelayDirect},
			want:   "pong 2024-05-01 12:00:00. rxSNR 6.25 dB RSSI -87 dBm (direct)",
		},
		{
			name:   "relayed",
			signal: &mesh.Signal{SNR: -3, RSSI: -120},
			relay:  mesh.Relay{Kind: mesh.RelayRelayed, Via: 0x4d},
			want:   "pong 2024-05-01 12:00:00. rxSNR -3 dB RSSI -120 dBm (relayed via 4d)",
		},
		{
			name:  "missing signal",
			relay: mesh.Relay{Kind: mesh.RelayDirect},
			want:  "pong 2024-05-01 12:00:00. rxSNR n/a dB RSSI n/a dBm (direct)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PongText(fixedNow, tt.signal, tt.relay))
		})
	}
}

func TestDefaultMessagesFitSinglePacket(t *testing.T) {
	msgs := DefaultMessages()
	for _, text := range []string{msgs.Canned, msgs.EventInfo, msgs.Onboarding} {
		assert.NotEmpty(t, text)
		assert.LessOrEqual(t, len(text), 200)
	}
}
