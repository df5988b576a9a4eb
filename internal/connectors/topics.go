package connectors

const (
	TopicConnStatus = "conn.status"
	TopicLocalNode  = "radio.local_node"
	// TopicConfigComplete fires when the radio finished the initial config download.
	TopicConfigComplete = "radio.config_complete"
	TopicNodeInfo       = "node.info"
	TopicNodeDiscovered = "node.discovered"
	TopicMeshPacket     = "mesh.packet"
	TopicRawFrameIn     = "raw.frame.in"
	TopicRawFrameOut    = "raw.frame.out"
)
