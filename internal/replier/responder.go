package replier

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

// Sender transmits one reply and reports the write result.
type Sender interface {
	SendText(ctx context.Context, reply mesh.Reply) error
}

// Ledger is the set of nodes that already got the greeting.
type Ledger interface {
	Contains(id mesh.NodeID) bool
	Add(id mesh.NodeID) bool
	Persist() error
	Len() int
}

// NameResolver maps node ids to display names.
type NameResolver interface {
	Resolve(ctx context.Context, id mesh.NodeID) domain.Names
}

// Observer receives counters for every handled packet.
type Observer interface {
	PacketClassified(category string)
	ReplySent(kind string)
	ReplyFailed(kind string)
	LedgerSize(n int)
	LedgerPersistFailed()
}

type nopObserver struct{}

func (nopObserver) PacketClassified(string) {}
func (nopObserver) ReplySent(string)        {}
func (nopObserver) ReplyFailed(string)      {}
func (nopObserver) LedgerSize(int)          {}
func (nopObserver) LedgerPersistFailed()    {}

// Responder consumes mesh packets one at a time, decides on replies and
// records greeted nodes. It is the only writer of the ledger.
type Responder struct {
	logger   *slog.Logger
	sender   Sender
	ledger   Ledger
	names    NameResolver
	messages Messages
	observer Observer
	now      func() time.Time

	self mesh.NodeID
}

type Option func(*Responder)

func WithObserver(o Observer) Option {
	return func(r *Responder) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Responder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewResponder(
	logger *slog.Logger,
	sender Sender,
	ledger Ledger,
	names NameResolver,
	messages Messages,
	opts ...Option,
) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Responder{
		logger:   logger,
		sender:   sender,
		ledger:   ledger,
		names:    names,
		messages: messages,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.observer.LedgerSize(ledger.Len())

	return r
}

// Start subscribes before returning so the local node event published on
// connect cannot be missed. The returned channel closes when the loop exits.
func (r *Responder) Start(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	topics := []string{connectors.TopicLocalNode, connectors.TopicMeshPacket}
	sub := b.Subscribe(topics...)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				switch ev := msg.(type) {
				case connectors.LocalNode:
					r.SetLocalNode(ev.NodeID)
				case mesh.Packet:
					r.Handle(ctx, ev)
				}
			}
		}
	}()

	return done
}

func (r *Responder) SetLocalNode(id mesh.NodeID) {
	if id == r.self {
		return
	}
	r.self = id
	r.logger.Info("connected to radio", "node_id", id.String(), "node_num", uint32(id))
	r.logger.Info("waiting for messages")
}

// Handle processes a single packet.
func (r *Responder) Handle(ctx context.Context, pkt mesh.Packet) {
	if r.self == 0 {
		r.logger.Debug("dropping packet before local node id is known", "from", pkt.From.String())

		return
	}

	c := Classify(pkt, r.self)
	r.observer.PacketClassified(c.Category.String())

	sender := r.names.Resolve(ctx, pkt.From)
	logger := r.logger.With(
		"from", pkt.From.String(),
		"from_name", sender.String(),
		"port", pkt.Port().String(),
		"relay_node", strconv.FormatUint(uint64(c.Relay.Via), 16),
	)
	if c.Relay.IsDirect() {
		logger.Info("packet received directly")
	} else {
		logger.Info("packet relayed", "relay", c.Relay.Describe())
	}
	if c.AddressedToSelf {
		logger.Info("packet addressed to this node", "payload_hex", payloadHex(pkt.Payload))
	}

	switch p := pkt.Payload.(type) {
	case mesh.TelemetryPayload:
		logTelemetry(logger, pkt, p)
	case mesh.PositionPayload:
		logPosition(logger, pkt, p)
	}

	decision := Decide(c, pkt.From, pkt.Signal, r.ledger.Contains, r.messages, r.now())
	if decision.Kind == KindNone {
		if c.Category == CategoryText {
			logger.Debug("no reply for text packet", "text", c.Text, "to", pkt.To.String())
		}

		return
	}
	r.execute(ctx, logger, pkt.From, decision)
}

func (r *Responder) execute(ctx context.Context, logger *slog.Logger, from mesh.NodeID, d Decision) {
	kind := string(d.Kind)
	for i, reply := range d.Replies {
		if err := r.sender.SendText(ctx, reply); err != nil {
			r.observer.ReplyFailed(kind)
			logger.Error("reply send failed", "kind", kind, "index", i, "to", reply.To.String(), "error", err)

			continue
		}
		r.observer.ReplySent(kind)
		logger.Info("reply sent", "kind", kind, "to", reply.To.String(), "text", reply.Text)
	}

	if !d.GreetSender {
		return
	}
	if !r.ledger.Add(from) {
		return
	}
	r.observer.LedgerSize(r.ledger.Len())
	if err := r.ledger.Persist(); err != nil {
		r.observer.LedgerPersistFailed()
		logger.Error("ledger persist failed", "node", from.String(), "error", err)

		return
	}
	logger.Info("node added to contacted ledger", "node", from.String(), "ledger_size", r.ledger.Len())
}

func logTelemetry(logger *slog.Logger, pkt mesh.Packet, p mesh.TelemetryPayload) {
	attrs := []any{"hops", hopsAttr(pkt)}
	if p.BatteryLevel != nil {
		attrs = append(attrs, "battery_level", *p.BatteryLevel)
	}
	if p.Voltage != nil {
		attrs = append(attrs, "voltage", *p.Voltage)
	}
	if p.Temperature != nil {
		attrs = append(attrs, "temperature", *p.Temperature)
	}
	if p.Humidity != nil {
		attrs = append(attrs, "humidity", *p.Humidity)
	}
	if p.Pressure != nil {
		attrs = append(attrs, "pressure", *p.Pressure)
	}
	attrs = append(attrs, signalAttrs(pkt.Signal)...)
	logger.Info("telemetry received", attrs...)
}

func logPosition(logger *slog.Logger, pkt mesh.Packet, p mesh.PositionPayload) {
	attrs := []any{"hops", hopsAttr(pkt)}
	if p.Latitude != nil && p.Longitude != nil {
		attrs = append(attrs, "latitude", *p.Latitude, "longitude", *p.Longitude)
	}
	if p.Altitude != nil {
		attrs = append(attrs, "altitude", *p.Altitude)
	}
	attrs = append(attrs, signalAttrs(pkt.Signal)...)
	logger.Info("position received", attrs...)
}

func signalAttrs(s *mesh.Signal) []any {
	quality := domain.QualityOf(s).String()
	if s == nil {
		return []any{"signal_quality", quality}
	}

	return []any{"snr", s.SNR, "rssi", s.RSSI, "signal_quality", quality}
}

func hopsAttr(pkt mesh.Packet) any {
	if hops, ok := pkt.Hops(); ok {
		return hops
	}

	return "unknown"
}

func payloadHex(p mesh.Payload) string {
	switch v := p.(type) {
	case mesh.TextPayload:
		return hex.EncodeToString([]byte(v.Text))
	case mesh.RawPayload:
		return hex.EncodeToString(v.Bytes)
	default:
		return ""
	}
}
