package replier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/ledger"
	"meshreplier/internal/mesh"
)

type recordingSender struct {
	mu      sync.Mutex
	replies []mesh.Reply
	failAt  map[int]error
}

func (s *recordingSender) SendText(_ context.Context, reply mesh.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.replies)
	s.replies = append(s.replies, reply)
	if err, ok := s.failAt[idx]; ok {
		return err
	}

	return nil
}

func (s *recordingSender) sent() []mesh.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]mesh.Reply(nil), s.replies...)
}

type countingObserver struct {
	mu             sync.Mutex
	classified     map[string]int
	sent           map[string]int
	failed         map[string]int
	ledgerSize     int
	persistFailure int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		classified: map[string]int{},
		sent:       map[string]int{},
		failed:     map[string]int{},
	}
}

func (o *countingObserver) PacketClassified(category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classified[category]++
}

func (o *countingObserver) ReplySent(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[kind]++
}

func (o *countingObserver) ReplyFailed(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[kind]++
}

func (o *countingObserver) LedgerSize(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledgerSize = n
}

func (o *countingObserver) LedgerPersistFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persistFailure++
}

type failingLedger struct {
	ids map[mesh.NodeID]struct{}
}

func (l *failingLedger) Contains(id mesh.NodeID) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *failingLedger) Add(id mesh.NodeID) bool {
	if l.Contains(id) {
		return false
	}
	l.ids[id] = struct{}{}

	return true
}

func (l *failingLedger) Persist() error { return errors.New("disk full") }
func (l *failingLedger) Len() int       { return len(l.ids) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResponder(t *testing.T, sender Sender, l Ledger, opts ...Option) *Responder {
	t.Helper()
	dir := domain.NewDirectory(testLogger(), domain.NewNodeStore(), nil)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r := NewResponder(testLogger(), sender, l, dir, DefaultMessages(), opts...)
	r.SetLocalNode(self)

	return r
}

func loadLedger(t *testing.T, path string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Load(path, testLogger())
	require.NoError(t, err)

	return l
}

func greetingPacket() mesh.Packet {
	return mesh.Packet{
		ID:       7,
		From:     0xdeadbeef,
		To:       mesh.Broadcast,
		HopStart: 3,
		HopLimit: 3,
		Payload:  mesh.TextPayload{Text: "hello"},
	}
}

func TestResponderPingEndToEnd(t *testing.T) {
	sender := &recordingSender{}
	r := newTestResponder(t, sender, loadLedger(t, filepath.Join(t.TempDir(), "ledger.txt")))

	r.Handle(context.Background(), mesh.Packet{
		From:     0x1a2b3c4d,
		To:       self,
		HopStart: 3,
		HopLimit: 3,
		Signal:   &mesh.Signal{SNR: 6.25, RSSI: -87},
		Payload:  mesh.TextPayload{Text: " PING "},
	})

	replies := sender.sent()
	require.Len(t, replies, 1)
	to, ok := replies[0].To.Node()
	require.True(t, ok)
	assert.Equal(t, mesh.NodeID(0x1a2b3c4d), to)
	assert.True(t, strings.HasPrefix(replies[0].Text, "pong"))
	assert.Equal(t, "pong 2024-05-01 12:00:00. rxSNR 6.25 dB RSSI -87 dBm (direct)", replies[0].Text)
}

func TestResponderGreetingEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	sender := &recordingSender{}
	l := loadLedger(t, path)
	r := newTestResponder(t, sender, l)

	r.Handle(context.Background(), greetingPacket())

	replies := sender.sent()
	require.Len(t, replies, 2)
	assert.Equal(t, DefaultEventInfo, replies[0].Text)
	assert.Equal(t, DefaultOnboarding, replies[1].Text)
	assert.True(t, l.Contains(0xdeadbeef))

	reloaded := loadLedger(t, path)
	assert.True(t, reloaded.Contains(0xdeadbeef))
}

func TestResponderGreetingIsIdempotentAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	first := &recordingSender{}
	newTestResponder(t, first, loadLedger(t, path)).Handle(context.Background(), greetingPacket())
	require.Len(t, first.sent(), 2)

	second := &recordingSender{}
	newTestResponder(t, second, loadLedger(t, path)).Handle(context.Background(), greetingPacket())

	assert.Empty(t, second.sent())
}

func TestResponderGreetsOnlyOnceWithinProcess(t *testing.T) {
	sender := &recordingSender{}
	r := newTestResponder(t, sender, loadLedger(t, filepath.Join(t.TempDir(), "ledger.txt")))

	r.Handle(context.Background(), greetingPacket())
	r.Handle(context.Background(), greetingPacket())

	assert.Len(t, sender.sent(), 2)
}

func TestResponderSendFailureStillRecordsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	sender := &recordingSender{failAt: map[int]error{0: errors.New("radio busy")}}
	obs := newCountingObserver()
	l := loadLedger(t, path)
	r := newTestResponder(t, sender, l, WithObserver(obs))

	r.Handle(context.Background(), greetingPacket())

	assert.Len(t, sender.sent(), 2, "second reply is still attempted")
	assert.Equal(t, 1, obs.failed["greeting"])
	assert.Equal(t, 1, obs.sent["greeting"])
	assert.True(t, l.Contains(0xdeadbeef))
	assert.True(t, loadLedger(t, path).Contains(0xdeadbeef))
	assert.Equal(t, 1, obs.ledgerSize)
}

func TestResponderPersistFailureKeepsMembership(t *testing.T) {
	sender := &recordingSender{}
	obs := newCountingObserver()
	l := &failingLedger{ids: map[mesh.NodeID]struct{}{}}
	r := newTestResponder(t, sender, l, WithObserver(obs))

	r.Handle(context.Background(), greetingPacket())
	r.Handle(context.Background(), greetingPacket())

	assert.Len(t, sender.sent(), 2)
	assert.True(t, l.Contains(0xdeadbeef))
	assert.Equal(t, 1, obs.persistFailure)
}

func TestResponderDropsPacketsBeforeLocalNodeKnown(t *testing.T) {
	sender := &recordingSender{}
	dir := domain.NewDirectory(testLogger(), domain.NewNodeStore(), nil)
	r := NewResponder(testLogger(), sender, loadLedger(t, filepath.Join(t.TempDir(), "l")), dir, DefaultMessages())

	r.Handle(context.Background(), greetingPacket())

	assert.Empty(t, sender.sent())
}

func TestResponderIgnoresTelemetryAndPosition(t *testing.T) {
	sender := &recordingSender{}
	obs := newCountingObserver()
	r := newTestResponder(t, sender, loadLedger(t, filepath.Join(t.TempDir(), "l")), WithObserver(obs))
	battery := uint32(90)
	lat, lon := 52.0, 4.0

	r.Handle(context.Background(), mesh.Packet{From: 0x42, To: self, HopStart: 1, HopLimit: 1, Payload: mesh.TelemetryPayload{BatteryLevel: &battery}})
	r.Handle(context.Background(), mesh.Packet{From: 0x42, To: self, HopStart: 1, HopLimit: 1, Payload: mesh.PositionPayload{Latitude: &lat, Longitude: &lon}})

	assert.Empty(t, sender.sent())
	assert.Equal(t, 1, obs.classified["telemetry"])
	assert.Equal(t, 1, obs.classified["position"])
}

func TestResponderStartConsumesBus(t *testing.T) {
	b := bus.New(testLogger(), 8)
	defer b.Close()

	sender := &recordingSender{}
	dir := domain.NewDirectory(testLogger(), domain.NewNodeStore(), nil)
	r := NewResponder(testLogger(), sender, loadLedger(t, filepath.Join(t.TempDir(), "l")), dir, DefaultMessages())

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx, b)

	b.Publish(connectors.TopicLocalNode, connectors.LocalNode{NodeID: self})
	b.Publish(connectors.TopicMeshPacket, mesh.Packet{
		From:    0x1a2b3c4d,
		To:      self,
		Payload: mesh.TextPayload{Text: "ping"},
	})

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("responder did not stop")
	}
}
