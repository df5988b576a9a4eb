package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"meshreplier/internal/mesh"
	"meshreplier/internal/replier"
)

func TestLogDryRunDoesNotGreetContactedNode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	self := mesh.NodeID(0x11111111)
	pkt := mesh.Packet{
		From:     0xdeadbeef,
		To:       mesh.Broadcast,
		HopStart: 3,
		HopLimit: 3,
		Payload:  mesh.TextPayload{Text: "hello all"},
	}

	tests := []struct {
		name      string
		contacted bool
		want      replier.Kind
	}{
		{name: "new sender", contacted: false, want: replier.KindGreeting},
		{name: "already contacted", contacted: true, want: replier.KindNone},
	}
	for _, tc := range tests {
		contacted := func(mesh.NodeID) bool { return tc.contacted }
		got := logDryRun(logger, pkt, self, contacted, replier.DefaultMessages(), time.Now())
		if got.Kind != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.Kind)
		}
	}
}

func TestPreviewHex(t *testing.T) {
	short := "94c3000a"
	if got := previewHex(" " + short + " "); got != short {
		t.Fatalf("expected %q, got %q", short, got)
	}

	long := strings.Repeat("ab", maxHexPreviewLen)
	got := previewHex(long)
	if len(got) != maxHexPreviewLen+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected preview %q", got)
	}
}
