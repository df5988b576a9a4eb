package domain

import (
	"time"

	"meshreplier/internal/mesh"
)

// Node is the latest known state of a mesh participant.
type Node struct {
	NodeID       mesh.NodeID
	LongName     string
	ShortName    string
	BatteryLevel *uint32
	Voltage      *float64
	Temperature  *float64
	Humidity     *float64
	Pressure     *float64
	Latitude     *float64
	Longitude    *float64
	Altitude     *int32
	RSSI         *int
	SNR          *float64
	LastHeardAt  time.Time
	UpdatedAt    time.Time
}

// HasUser reports whether the node announced any user metadata.
func (n Node) HasUser() bool {
	return n.LongName != "" || n.ShortName != ""
}

type NodeUpdateType string

const (
	NodeUpdateTypeNodeInfoSnapshot NodeUpdateType = "node_info_snapshot"
	NodeUpdateTypeNodeInfoPacket   NodeUpdateType = "node_info_packet"
	NodeUpdateTypeTelemetryPacket  NodeUpdateType = "telemetry_packet"
	NodeUpdateTypePositionPacket   NodeUpdateType = "position_packet"
)

type NodeUpdate struct {
	Node       Node
	FromPacket bool
	Type       NodeUpdateType
}

// NodeDiscovered is published the first time a node announces itself after
// the initial config download.
type NodeDiscovered struct {
	Node         Node
	DiscoveredAt time.Time
}
