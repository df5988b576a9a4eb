package domain

import (
	"context"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartPersistenceProjection mirrors node updates into the repository. The
// write merges with the in-memory store so sparse packets do not blank columns.
func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, store *NodeStore, nodeRepo NodeRepository) {
	nodeSub := b.Subscribe(connectors.TopicNodeInfo)

	go func() {
		defer b.Unsubscribe(nodeSub, connectors.TopicNodeInfo)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-nodeSub:
				if !ok {
					return
				}
				update, ok := raw.(NodeUpdate)
				if !ok {
					continue
				}
				n := update.Node
				if existing, found := store.Get(n.NodeID); found {
					n = mergeNode(existing, n)
				}
				queue.Enqueue("upsert_node", func(writeCtx context.Context) error {
					return nodeRepo.Upsert(writeCtx, n)
				})
			}
		}
	}()
}
