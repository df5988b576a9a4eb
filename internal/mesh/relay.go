package mesh

import "fmt"

// RelayKind tells whether a packet was heard straight from its sender.
type RelayKind int

const (
	RelayDirect RelayKind = iota + 1
	RelayRelayed
)

// Relay is the derived relay classification of a packet.
type Relay struct {
	Kind RelayKind
	// Via is the relay node reported by the radio. Firmware only carries the
	// last byte of the relaying node number here.
	Via uint32
}

// ClassifyRelay marks a packet as direct when it made zero hops and was not sent by self.
func ClassifyRelay(p Packet, self NodeID) Relay {
	if p.HopStart == p.HopLimit && p.From != self {
		return Relay{Kind: RelayDirect, Via: p.RelayNode}
	}

	return Relay{Kind: RelayRelayed, Via: p.RelayNode}
}

func (r Relay) IsDirect() bool {
	return r.Kind == RelayDirect
}

func (r Relay) Describe() string {
	if r.IsDirect() {
		return "direct"
	}

	return fmt.Sprintf("relayed via %x", r.Via)
}
