package replier

import (
	"strings"

	"meshreplier/internal/mesh"
)

// Category is the coarse packet class the reply policy works on.
type Category int

const (
	CategoryOther Category = iota
	CategoryTelemetry
	CategoryPosition
	CategoryText
)

func (c Category) String() string {
	switch c {
	case CategoryTelemetry:
		return "telemetry"
	case CategoryPosition:
		return "position"
	case CategoryText:
		return "text"
	default:
		return "other"
	}
}

// Classification holds everything Decide needs to know about a packet.
// Text is set for text packets only, trimmed and lower-cased.
type Classification struct {
	Category        Category
	AddressedToSelf bool
	Relay           mesh.Relay
	Text            string
}

func Classify(pkt mesh.Packet, self mesh.NodeID) Classification {
	c := Classification{
		Category:        categoryOf(pkt.Port()),
		AddressedToSelf: pkt.To == self,
		Relay:           mesh.ClassifyRelay(pkt, self),
	}
	if text, ok := pkt.Text(); ok {
		c.Text = normalizeText(text)
	}

	return c
}

func categoryOf(port mesh.Port) Category {
	switch port {
	case mesh.PortTelemetry:
		return CategoryTelemetry
	case mesh.PortPosition:
		return CategoryPosition
	case mesh.PortText:
		return CategoryText
	default:
		return CategoryOther
	}
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
