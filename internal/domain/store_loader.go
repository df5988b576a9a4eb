package domain

import (
	"context"
	"fmt"
)

func LoadNodeStoreFromRepository(ctx context.Context, nodes *NodeStore, nodeRepo NodeRepository) error {
	items, err := nodeRepo.ListSortedByLastHeard(ctx)
	if err != nil {
		return fmt.Errorf("load nodes from db: %w", err)
	}
	nodes.Load(items)

	return nil
}
