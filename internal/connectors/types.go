package connectors

import (
	"time"

	"meshreplier/internal/mesh"
)

// ConnectionState describes the connector lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a bus event snapshot of current connector status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Timestamp     time.Time
}

// LocalNode is published once the radio reported its own node number.
type LocalNode struct {
	NodeID mesh.NodeID
}

// ConfigComplete echoes the want_config id the radio acknowledged.
type ConfigComplete struct {
	ID uint32
}

// RawFrame carries frame diagnostics for debug logging.
type RawFrame struct {
	Direction FrameDirection
	Hex       string
	Len       int
}

type FrameDirection string

const (
	FrameIn  FrameDirection = "in"
	FrameOut FrameDirection = "out"
)
