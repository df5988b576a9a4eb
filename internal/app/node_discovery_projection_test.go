package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

func TestNodeDiscoveryProjection_EmitsAfterBootstrapForUnknownNodeInfoPacket(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger, 16)
	t.Cleanup(messageBus.Close)

	store := domain.NewNodeStore()
	store.Upsert(domain.Node{NodeID: 0x01})

	proj := NewNodeDiscoveryProjection(store, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	proj.Start(ctx, messageBus)

	sub := messageBus.Subscribe(connectors.TopicNodeDiscovered)
	t.Cleanup(func() {
		messageBus.Unsubscribe(sub, connectors.TopicNodeDiscovered)
	})

	// Before bootstrap completion, discovery must stay muted.
	publishNodeUpdate(messageBus, 0x99, domain.NodeUpdateTypeNodeInfoPacket)
	assertNoNodeDiscovered(t, sub)

	// Snapshots during the config download only extend the baseline.
	publishNodeUpdate(messageBus, 0x77, domain.NodeUpdateTypeNodeInfoSnapshot)
	armBootstrap(messageBus)

	// Non-nodeinfo packets must not trigger discovery.
	publishNodeUpdate(messageBus, 0x98, domain.NodeUpdateTypeTelemetryPacket)
	assertNoNodeDiscovered(t, sub)

	// Already-known nodes should not emit.
	publishNodeUpdate(messageBus, 0x01, domain.NodeUpdateTypeNodeInfoPacket)
	publishNodeUpdate(messageBus, 0x77, domain.NodeUpdateTypeNodeInfoPacket)
	assertNoNodeDiscovered(t, sub)

	// Unknown node discovered post-bootstrap emits once.
	publishNodeUpdate(messageBus, 0x99, domain.NodeUpdateTypeNodeInfoPacket)
	event := waitNodeDiscovered(t, sub)
	if event.Node.NodeID != 0x99 {
		t.Fatalf("unexpected discovered node id: %s", event.Node.NodeID)
	}

	publishNodeUpdate(messageBus, 0x99, domain.NodeUpdateTypeNodeInfoPacket)
	assertNoNodeDiscovered(t, sub)
}

func TestNodeDiscoveryProjection_DisconnectMutesUntilNextBootstrap(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger, 16)
	t.Cleanup(messageBus.Close)

	proj := NewNodeDiscoveryProjection(domain.NewNodeStore(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	proj.Start(ctx, messageBus)

	sub := messageBus.Subscribe(connectors.TopicNodeDiscovered)
	t.Cleanup(func() {
		messageBus.Unsubscribe(sub, connectors.TopicNodeDiscovered)
	})

	armBootstrap(messageBus)
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnStatus{State: connectors.ConnectionStateReconnecting})
	publishNodeUpdate(messageBus, 0x42, domain.NodeUpdateTypeNodeInfoPacket)
	assertNoNodeDiscovered(t, sub)

	armBootstrap(messageBus)
	publishNodeUpdate(messageBus, 0x42, domain.NodeUpdateTypeNodeInfoPacket)
	event := waitNodeDiscovered(t, sub)
	if event.Node.NodeID != 0x42 {
		t.Fatalf("unexpected discovered node id after reconnect: %s", event.Node.NodeID)
	}
}

func publishNodeUpdate(messageBus bus.MessageBus, id mesh.NodeID, typ domain.NodeUpdateType) {
	messageBus.Publish(connectors.TopicNodeInfo, domain.NodeUpdate{
		Node: domain.Node{NodeID: id},
		Type: typ,
	})
}

func waitNodeDiscovered(t *testing.T, sub bus.Subscription) domain.NodeDiscovered {
	t.Helper()
	timeout := time.NewTimer(500 * time.Millisecond)
	defer timeout.Stop()

	for {
		select {
		case raw, ok := <-sub:
			if !ok {
				t.Fatalf("node discovery subscription closed")
			}
			event, ok := raw.(domain.NodeDiscovered)
			if !ok {
				continue
			}

			return event
		case <-timeout.C:
			t.Fatalf("timeout waiting for node discovery event")
		}
	}
}

func assertNoNodeDiscovered(t *testing.T, sub bus.Subscription) {
	t.Helper()
	timer := time.NewTimer(120 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-sub:
			if !ok {
				t.Fatalf("node discovery subscription closed")
			}
			if _, ok := raw.(domain.NodeDiscovered); ok {
				t.Fatalf("unexpected node discovery event: %#v", raw)
			}
		case <-timer.C:
			return
		}
	}
}

// The projection reads all its topics from one subscription, so events stay
// ordered without sleeping.
func armBootstrap(messageBus bus.MessageBus) {
	messageBus.Publish(connectors.TopicConfigComplete, connectors.ConfigComplete{ID: 1})
}
