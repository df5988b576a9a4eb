package domain

import (
	"context"

	"meshreplier/internal/mesh"
)

type NodeRepository interface {
	Upsert(ctx context.Context, n Node) error
	Get(ctx context.Context, id mesh.NodeID) (Node, bool, error)
	ListSortedByLastHeard(ctx context.Context) ([]Node, error)
}
