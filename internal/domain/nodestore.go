package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/mesh"
)

// NodeStore keeps the latest node snapshots in memory.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[mesh.NodeID]Node
}

func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes: make(map[mesh.NodeID]Node),
	}
}

func (s *NodeStore) Load(nodes []Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		s.nodes[node.NodeID] = node
	}
}

func (s *NodeStore) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(connectors.TopicNodeInfo)
	go func() {
		defer b.Unsubscribe(sub, connectors.TopicNodeInfo)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				update, ok := msg.(NodeUpdate)
				if !ok {
					continue
				}
				s.Upsert(update.Node)
			}
		}
	}()
}

func (s *NodeStore) Upsert(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.NodeID]
	if ok {
		node = mergeNode(existing, node)
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = time.Now()
	}
	s.nodes[node.NodeID] = node
}

// mergeNode applies a sparse update without wiping cached metadata.
func mergeNode(existing, node Node) Node {
	if node.LongName == "" {
		node.LongName = existing.LongName
	}
	if node.ShortName == "" {
		node.ShortName = existing.ShortName
	}
	if node.BatteryLevel == nil {
		node.BatteryLevel = existing.BatteryLevel
	}
	if node.Voltage == nil {
		node.Voltage = existing.Voltage
	}
	if node.Temperature == nil {
		node.Temperature = existing.Temperature
	}
	if node.Humidity == nil {
		node.Humidity = existing.Humidity
	}
	if node.Pressure == nil {
		node.Pressure = existing.Pressure
	}
	if node.Latitude == nil {
		node.Latitude = existing.Latitude
	}
	if node.Longitude == nil {
		node.Longitude = existing.Longitude
	}
	if node.Altitude == nil {
		node.Altitude = existing.Altitude
	}
	if node.RSSI == nil {
		node.RSSI = existing.RSSI
	}
	if node.SNR == nil {
		node.SNR = existing.SNR
	}
	if node.LastHeardAt.IsZero() || existing.LastHeardAt.After(node.LastHeardAt) {
		node.LastHeardAt = existing.LastHeardAt
	}
	if existing.UpdatedAt.After(node.UpdatedAt) {
		node.UpdatedAt = existing.UpdatedAt
	}

	return node
}

func (s *NodeStore) SnapshotSorted() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastHeardAt.After(out[j].LastHeardAt)
	})

	return out
}

func (s *NodeStore) Get(id mesh.NodeID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]

	return node, ok
}

func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}
