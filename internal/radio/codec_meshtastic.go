package radio

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	generated "github.com/meshtastic/go/generated"
	"google.golang.org/protobuf/proto"

	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

const meshtasticPositionScale = 1e-7

// MeshtasticCodec implements Codec for Meshtastic protobuf frames.
type MeshtasticCodec struct {
	wantConfigID atomic.Uint32
	packetID     atomic.Uint32
	localNodeNum atomic.Uint32
}

func NewMeshtasticCodec() (*MeshtasticCodec, error) {
	var seedRaw [4]byte
	if _, err := rand.Read(seedRaw[:]); err != nil {
		return nil, fmt.Errorf("seed meshtastic codec packet id: %w", err)
	}
	c := &MeshtasticCodec{}
	c.packetID.Store(binary.BigEndian.Uint32(seedRaw[:]))

	return c, nil
}

// LocalNodeID returns the node number reported by the radio, or 0 before MyInfo arrived.
func (c *MeshtasticCodec) LocalNodeID() mesh.NodeID {
	return mesh.NodeID(c.localNodeNum.Load())
}

func (c *MeshtasticCodec) EncodeWantConfig() ([]byte, error) {
	id := c.nextNonZeroID()
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_WantConfigId{WantConfigId: id}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return nil, err
	}
	c.wantConfigID.Store(id)

	return payload, nil
}

func (c *MeshtasticCodec) EncodeHeartbeat() ([]byte, error) {
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Heartbeat{Heartbeat: &generated.Heartbeat{}}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeText(reply mesh.Reply) (EncodedText, error) {
	var to, channel uint32
	if node, ok := reply.To.Node(); ok {
		if node == 0 || node.IsBroadcast() {
			return EncodedText{}, fmt.Errorf("invalid direct message destination: %s", node)
		}
		to = uint32(node)
	} else {
		idx, _ := reply.To.Channel()
		to = uint32(mesh.Broadcast)
		channel = idx
	}
	packetID := c.nextNonZeroID()

	packet := &generated.MeshPacket{
		To:      to,
		Channel: channel,
		Id:      packetID,
		WantAck: reply.WantAck,
		PayloadVariant: &generated.MeshPacket_Decoded{Decoded: &generated.Data{
			Portnum: generated.PortNum_TEXT_MESSAGE_APP,
			Payload: []byte(reply.Text),
		}},
	}
	wire := &generated.ToRadio{PayloadVariant: &generated.ToRadio_Packet{Packet: packet}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return EncodedText{}, err
	}

	return EncodedText{
		Payload:  payload,
		PacketID: packetID,
		WantAck:  packet.GetWantAck(),
	}, nil
}

func (c *MeshtasticCodec) DecodeFromRadio(payload []byte) (DecodedFrame, error) {
	out := DecodedFrame{Raw: payload}

	var wire generated.FromRadio
	if err := proto.Unmarshal(payload, &wire); err != nil {
		return out, fmt.Errorf("decode fromradio protobuf: %w", err)
	}

	now := time.Now()
	if my := wire.GetMyInfo(); my != nil && my.GetMyNodeNum() != 0 {
		c.localNodeNum.Store(my.GetMyNodeNum())
		out.LocalNode = &connectors.LocalNode{NodeID: mesh.NodeID(my.GetMyNodeNum())}
	}

	if configID := wire.GetConfigCompleteId(); configID != 0 {
		out.ConfigCompleteID = configID
		expected := c.wantConfigID.Load()
		if expected != 0 && configID == expected {
			out.WantConfigReady = true
		}
	}

	if nodeInfo := wire.GetNodeInfo(); nodeInfo != nil && nodeInfo.GetNum() != 0 {
		update := decodeNodeInfo(nodeInfo, now)
		out.NodeUpdate = &update
	}

	if packet := wire.GetPacket(); packet != nil {
		if pkt, ok := decodePacket(packet); ok {
			out.Packet = &pkt
			if update, ok := domain.NodeUpdateFromPacket(pkt, now); ok {
				out.NodeUpdate = &update
			}
		}
	}

	return out, nil
}

// decodePacket validates a wire packet into the mesh model. Encrypted packets
// that the radio could not decode are dropped.
func decodePacket(packet *generated.MeshPacket) (mesh.Packet, bool) {
	decoded := packet.GetDecoded()
	if decoded == nil {
		return mesh.Packet{}, false
	}

	out := mesh.Packet{
		ID:        packet.GetId(),
		From:      mesh.NodeID(packet.GetFrom()),
		To:        mesh.NodeID(packet.GetTo()),
		Channel:   packet.GetChannel(),
		HopStart:  packet.GetHopStart(),
		HopLimit:  packet.GetHopLimit(),
		RelayNode: packet.GetRelayNode(),
	}
	if rx := packet.GetRxTime(); rx != 0 {
		out.RxTime = time.Unix(int64(rx), 0)
	}
	if snr, rssi := packet.GetRxSnr(), packet.GetRxRssi(); snr != 0 || rssi != 0 {
		out.Signal = &mesh.Signal{SNR: snr, RSSI: rssi}
	}
	out.Payload = decodePayload(decoded)

	return out, true
}

func decodePayload(decoded *generated.Data) mesh.Payload {
	raw := decoded.GetPayload()
	fallback := mesh.RawPayload{PortNum: int32(decoded.GetPortnum()), Bytes: raw}

	switch decoded.GetPortnum() {
	case generated.PortNum_TEXT_MESSAGE_APP:
		return mesh.TextPayload{Text: string(raw)}
	case generated.PortNum_POSITION_APP:
		var position generated.Position
		if err := proto.Unmarshal(raw, &position); err != nil {
			return fallback
		}
		return decodePosition(&position)
	case generated.PortNum_TELEMETRY_APP:
		var telemetry generated.Telemetry
		if err := proto.Unmarshal(raw, &telemetry); err != nil {
			return fallback
		}
		return decodeTelemetry(&telemetry)
	case generated.PortNum_NODEINFO_APP:
		var user generated.User
		if err := proto.Unmarshal(raw, &user); err != nil {
			return fallback
		}
		return mesh.NodeInfoPayload{
			LongName:  strings.TrimSpace(user.GetLongName()),
			ShortName: strings.TrimSpace(user.GetShortName()),
		}
	default:
		return fallback
	}
}

func decodePosition(position *generated.Position) mesh.PositionPayload {
	var out mesh.PositionPayload
	if position.LatitudeI != nil && position.LongitudeI != nil {
		lat := float64(position.GetLatitudeI()) * meshtasticPositionScale
		lon := float64(position.GetLongitudeI()) * meshtasticPositionScale
		if isValidNodeCoordinate(lat, lon) {
			out.Latitude = &lat
			out.Longitude = &lon
		}
	}
	if position.Altitude != nil {
		alt := position.GetAltitude()
		out.Altitude = &alt
	}

	return out
}

func decodeTelemetry(telemetry *generated.Telemetry) mesh.TelemetryPayload {
	var out mesh.TelemetryPayload
	if dm := telemetry.GetDeviceMetrics(); dm != nil {
		if dm.BatteryLevel != nil {
			v := dm.GetBatteryLevel()
			out.BatteryLevel = &v
		}
		out.Voltage = float32Ptr(dm.Voltage)
	}
	if env := telemetry.GetEnvironmentMetrics(); env != nil {
		out.Temperature = float32Ptr(env.Temperature)
		out.Humidity = float32Ptr(env.RelativeHumidity)
		out.Pressure = float32Ptr(env.BarometricPressure)
		// Some older telemetry reports power metrics in environment payload.
		if out.Voltage == nil {
			out.Voltage = float32Ptr(env.Voltage)
		}
	}

	return out
}

func decodeNodeInfo(nodeInfo *generated.NodeInfo, now time.Time) domain.NodeUpdate {
	user := nodeInfo.GetUser()
	node := domain.Node{
		NodeID:      mesh.NodeID(nodeInfo.GetNum()),
		LongName:    strings.TrimSpace(user.GetLongName()),
		ShortName:   strings.TrimSpace(user.GetShortName()),
		LastHeardAt: packetTimestamp(nodeInfo.GetLastHeard(), now),
		UpdatedAt:   now,
	}
	if position := nodeInfo.GetPosition(); position != nil {
		p := decodePosition(position)
		node.Latitude, node.Longitude, node.Altitude = p.Latitude, p.Longitude, p.Altitude
	}
	if dm := nodeInfo.GetDeviceMetrics(); dm != nil {
		if dm.BatteryLevel != nil {
			v := dm.GetBatteryLevel()
			node.BatteryLevel = &v
		}
		if v := float32Ptr(dm.Voltage); v != nil {
			node.Voltage = v
		}
	}
	if snr := nodeInfo.GetSnr(); snr != 0 {
		snrVal := float64(snr)
		node.SNR = &snrVal
	}

	return domain.NodeUpdate{
		Node: node,
		Type: domain.NodeUpdateTypeNodeInfoSnapshot,
	}
}

func isValidNodeCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}

	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func float32Ptr(v *float32) *float64 {
	if v == nil {
		return nil
	}
	out := float64(*v)

	return &out
}

func packetTimestamp(epochSec uint32, fallback time.Time) time.Time {
	if epochSec == 0 {
		return fallback
	}

	return time.Unix(int64(epochSec), 0)
}

func (c *MeshtasticCodec) nextNonZeroID() uint32 {
	for {
		id := c.packetID.Add(1)
		if id != 0 {
			return id
		}
	}
}
