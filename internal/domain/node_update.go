package domain

import (
	"strings"
	"time"

	"meshreplier/internal/mesh"
)

// NodeUpdateFromPacket projects node-describing packets into a directory update.
// Text and unknown ports yield false.
func NodeUpdateFromPacket(p mesh.Packet, now time.Time) (NodeUpdate, bool) {
	if p.From == 0 {
		return NodeUpdate{}, false
	}

	node := Node{
		NodeID:      p.From,
		LastHeardAt: now,
		UpdatedAt:   now,
	}
	if !p.RxTime.IsZero() {
		node.LastHeardAt = p.RxTime
	}
	if p.Signal != nil {
		if p.Signal.RSSI != 0 {
			rssi := int(p.Signal.RSSI)
			node.RSSI = &rssi
		}
		if p.Signal.SNR != 0 {
			snr := float64(p.Signal.SNR)
			node.SNR = &snr
		}
	}

	update := NodeUpdate{FromPacket: true}
	switch v := p.Payload.(type) {
	case mesh.NodeInfoPayload:
		node.LongName = strings.TrimSpace(v.LongName)
		node.ShortName = strings.TrimSpace(v.ShortName)
		update.Type = NodeUpdateTypeNodeInfoPacket
	case mesh.TelemetryPayload:
		node.BatteryLevel = v.BatteryLevel
		node.Voltage = v.Voltage
		node.Temperature = v.Temperature
		node.Humidity = v.Humidity
		node.Pressure = v.Pressure
		update.Type = NodeUpdateTypeTelemetryPacket
	case mesh.PositionPayload:
		if v.Latitude == nil || v.Longitude == nil {
			return NodeUpdate{}, false
		}
		node.Latitude = v.Latitude
		node.Longitude = v.Longitude
		node.Altitude = v.Altitude
		update.Type = NodeUpdateTypePositionPacket
	default:
		return NodeUpdate{}, false
	}
	update.Node = node

	return update, true
}
