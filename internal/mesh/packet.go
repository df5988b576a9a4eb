package mesh

import "time"

// Port is the application port of a decoded packet, reduced to what the replier cares about.
type Port int

const (
	PortOther Port = iota
	PortText
	PortPosition
	PortTelemetry
	PortNodeInfo
)

func (p Port) String() string {
	switch p {
	case PortText:
		return "TEXT"
	case PortPosition:
		return "POSITION"
	case PortTelemetry:
		return "TELEMETRY"
	case PortNodeInfo:
		return "NODEINFO"
	default:
		return "OTHER"
	}
}

// Signal is the receive quality reported by the local radio.
type Signal struct {
	SNR  float32
	RSSI int32
}

// Packet is a decoded inbound mesh packet. Payload holds exactly one of the
// *Payload variants below.
type Packet struct {
	ID        uint32
	From      NodeID
	To        NodeID
	Channel   uint32
	HopStart  uint32
	HopLimit  uint32
	RelayNode uint32
	RxTime    time.Time
	Signal    *Signal
	Payload   Payload
}

// Payload is the port-specific content of a packet.
type Payload interface {
	Port() Port
}

type TextPayload struct {
	Text string
}

type PositionPayload struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *int32
}

type TelemetryPayload struct {
	BatteryLevel *uint32
	Voltage      *float64
	Temperature  *float64
	Humidity     *float64
	Pressure     *float64
}

type NodeInfoPayload struct {
	LongName  string
	ShortName string
}

// RawPayload carries ports the replier does not interpret.
type RawPayload struct {
	PortNum int32
	Bytes   []byte
}

func (TextPayload) Port() Port      { return PortText }
func (PositionPayload) Port() Port  { return PortPosition }
func (TelemetryPayload) Port() Port { return PortTelemetry }
func (NodeInfoPayload) Port() Port  { return PortNodeInfo }
func (RawPayload) Port() Port       { return PortOther }

func (p Packet) Port() Port {
	if p.Payload == nil {
		return PortOther
	}

	return p.Payload.Port()
}

// Text returns the text body for TEXT packets.
func (p Packet) Text() (string, bool) {
	v, ok := p.Payload.(TextPayload)
	if !ok {
		return "", false
	}

	return v.Text, true
}

// Hops is the number of relays the packet went through, when the hop counters allow computing it.
func (p Packet) Hops() (int, bool) {
	if p.HopStart == 0 && p.HopLimit == 0 {
		return 0, false
	}
	if p.HopStart < p.HopLimit {
		return 0, false
	}

	return int(p.HopStart - p.HopLimit), true
}
