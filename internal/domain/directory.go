package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meshreplier/internal/mesh"
)

const lookupTimeout = 2 * time.Second

// Names is the human readable identity of a node.
type Names struct {
	Long  string
	Short string
}

// NodeLookup is a source of node metadata that may fail.
type NodeLookup interface {
	Get(ctx context.Context, id mesh.NodeID) (Node, bool, error)
}

// Directory resolves node ids to names. The in-memory store is consulted
// first, then the optional fallback source.
type Directory struct {
	store    *NodeStore
	fallback NodeLookup
	logger   *slog.Logger
}

func NewDirectory(logger *slog.Logger, store *NodeStore, fallback NodeLookup) *Directory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{store: store, fallback: fallback, logger: logger}
}

// Resolve never fails: unknown nodes get synthesized names and lookup errors
// map to an Unknown_<hex> pair.
func (d *Directory) Resolve(ctx context.Context, id mesh.NodeID) Names {
	node, ok, err := d.lookup(ctx, id)
	if err != nil {
		d.logger.Error("node lookup failed", "node", id.String(), "error", err)

		unknown := "Unknown_" + id.Hex()
		return Names{Long: unknown, Short: unknown}
	}
	if !ok || !node.HasUser() {
		return FallbackNames(id)
	}

	names := Names{
		Long:  strings.TrimSpace(node.LongName),
		Short: strings.TrimSpace(node.ShortName),
	}
	fallback := FallbackNames(id)
	if names.Short == "" {
		names.Short = fallback.Short
	}
	if names.Long == "" {
		names.Long = fallback.Long
	}

	return names
}

func (d *Directory) lookup(ctx context.Context, id mesh.NodeID) (Node, bool, error) {
	if d.store != nil {
		if node, ok := d.store.Get(id); ok && node.HasUser() {
			return node, true, nil
		}
	}
	if d.fallback == nil {
		return Node{}, false, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	node, ok, err := d.fallback.Get(lookupCtx, id)
	if err != nil {
		return Node{}, false, fmt.Errorf("fallback lookup: %w", err)
	}

	return node, ok, nil
}

// FallbackNames mirrors the firmware defaults for nodes without user info.
func FallbackNames(id mesh.NodeID) Names {
	short := id.ShortHex()

	return Names{Long: "Meshtastic " + short, Short: short}
}

func (n Names) String() string {
	return fmt.Sprintf("%s (%s)", n.Long, n.Short)
}
