package mesh

import "fmt"

// Destination targets either a single node or a channel, never both.
type Destination struct {
	node    NodeID
	channel uint32
	isNode  bool
}

func NodeDestination(id NodeID) Destination {
	return Destination{node: id, isNode: true}
}

func ChannelDestination(index uint32) Destination {
	return Destination{channel: index}
}

// Node returns the destination node when the destination is a direct message.
func (d Destination) Node() (NodeID, bool) {
	return d.node, d.isNode
}

// Channel returns the channel index when the destination is a channel broadcast.
func (d Destination) Channel() (uint32, bool) {
	return d.channel, !d.isNode
}

func (d Destination) String() string {
	if d.isNode {
		return "dm:" + d.node.String()
	}

	return fmt.Sprintf("channel:%d", d.channel)
}

// Reply is a single outbound text message.
type Reply struct {
	To      Destination
	Text    string
	WantAck bool
}

func ToNode(id NodeID, text string, wantAck bool) Reply {
	return Reply{To: NodeDestination(id), Text: text, WantAck: wantAck}
}

func ToChannel(index uint32, text string, wantAck bool) Reply {
	return Reply{To: ChannelDestination(index), Text: text, WantAck: wantAck}
}
