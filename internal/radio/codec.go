package radio

import (
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

// DecodedFrame is a parsed inbound radio frame with optional event payloads.
type DecodedFrame struct {
	Raw              []byte
	LocalNode        *connectors.LocalNode
	NodeUpdate       *domain.NodeUpdate
	Packet           *mesh.Packet
	ConfigCompleteID uint32
	WantConfigReady  bool
}

// EncodedText contains an outbound text frame and its tracking metadata.
type EncodedText struct {
	Payload  []byte
	PacketID uint32
	WantAck  bool
}

// Codec translates between transport frames and mesh events.
type Codec interface {
	EncodeWantConfig() ([]byte, error)
	EncodeHeartbeat() ([]byte, error)
	EncodeText(reply mesh.Reply) (EncodedText, error)
	DecodeFromRadio(payload []byte) (DecodedFrame, error)
}
