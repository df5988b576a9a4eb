package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

// NodeDiscoveryProjection emits TopicNodeDiscovered for nodes that announce
// themselves after the initial config download and were never seen before.
type NodeDiscoveryProjection struct {
	logger *slog.Logger

	mu               sync.Mutex
	bootstrapReady   bool
	bootstrapCutover time.Time
	knownNodeIDs     map[mesh.NodeID]struct{}
}

func NewNodeDiscoveryProjection(nodeStore *domain.NodeStore, logger *slog.Logger) *NodeDiscoveryProjection {
	if logger == nil {
		logger = slog.Default().With("component", "discovery")
	}

	return &NodeDiscoveryProjection{
		logger:       logger,
		knownNodeIDs: snapshotNodeIDs(nodeStore),
	}
}

func (p *NodeDiscoveryProjection) Start(ctx context.Context, messageBus bus.MessageBus) {
	if p == nil || messageBus == nil {
		return
	}
	topics := []string{connectors.TopicConnStatus, connectors.TopicConfigComplete, connectors.TopicNodeInfo}
	sub := messageBus.Subscribe(topics...)

	go func() {
		defer messageBus.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				switch ev := raw.(type) {
				case connectors.ConnStatus:
					p.handleConnStatus(ev)
				case connectors.ConfigComplete:
					p.handleConfigComplete()
				case domain.NodeUpdate:
					event, shouldPublish := p.nodeDiscoveredEvent(ev)
					if !shouldPublish {
						continue
					}
					messageBus.Publish(connectors.TopicNodeDiscovered, event)
					p.logger.Info("node discovered",
						"node_id", event.Node.NodeID.String(),
						"long_name", event.Node.LongName,
						"short_name", event.Node.ShortName,
					)
				}
			}
		}
	}()
}

// A reconnect replays the node database, so discovery is muted until the
// next config download completes.
func (p *NodeDiscoveryProjection) handleConnStatus(status connectors.ConnStatus) {
	if status.State == "" || status.State == connectors.ConnectionStateConnected {
		return
	}
	p.mu.Lock()
	p.bootstrapReady = false
	p.bootstrapCutover = time.Time{}
	p.mu.Unlock()
}

func (p *NodeDiscoveryProjection) handleConfigComplete() {
	p.mu.Lock()
	if p.bootstrapReady {
		p.mu.Unlock()

		return
	}
	p.bootstrapReady = true
	p.bootstrapCutover = time.Now()
	p.mu.Unlock()
	p.logger.Debug("node discovery armed after initial bootstrap")
}

func (p *NodeDiscoveryProjection) nodeDiscoveredEvent(update domain.NodeUpdate) (domain.NodeDiscovered, bool) {
	nodeID := update.Node.NodeID
	if nodeID == 0 || nodeID.IsBroadcast() {
		return domain.NodeDiscovered{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Snapshots from the config download only seed the baseline.
	if update.Type == domain.NodeUpdateTypeNodeInfoSnapshot {
		p.knownNodeIDs[nodeID] = struct{}{}

		return domain.NodeDiscovered{}, false
	}
	if !p.bootstrapReady || update.Type != domain.NodeUpdateTypeNodeInfoPacket {
		return domain.NodeDiscovered{}, false
	}
	if !nodeUpdateAtOrAfterCutover(update, p.bootstrapCutover) {
		return domain.NodeDiscovered{}, false
	}
	if _, ok := p.knownNodeIDs[nodeID]; ok {
		return domain.NodeDiscovered{}, false
	}
	p.knownNodeIDs[nodeID] = struct{}{}

	return domain.NodeDiscovered{
		Node:         update.Node,
		DiscoveredAt: time.Now(),
	}, true
}

func nodeUpdateAtOrAfterCutover(update domain.NodeUpdate, cutover time.Time) bool {
	if cutover.IsZero() {
		return true
	}
	observedAt := update.Node.UpdatedAt
	if observedAt.IsZero() {
		return true
	}

	return !observedAt.Before(cutover)
}

func snapshotNodeIDs(nodeStore *domain.NodeStore) map[mesh.NodeID]struct{} {
	known := make(map[mesh.NodeID]struct{})
	if nodeStore == nil {
		return known
	}
	for _, node := range nodeStore.SnapshotSorted() {
		if node.NodeID == 0 {
			continue
		}
		known[node.NodeID] = struct{}{}
	}

	return known
}
