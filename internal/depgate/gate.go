package depgate

import (
	"context"
	"fmt"

	"curator/internal/recordstore"
	"curator/internal/registry"
	"curator/internal/workitem"
)

// Gate evaluates children-complete predicates against the record store.
type Gate struct {
	store recordstore.API
}

// New constructs a gate backed by the given store.
func New(store recordstore.API) *Gate {
	return &Gate{store: store}
}

// ChildrenAtLeast reports whether every child of the parent has reached the
// threshold status. A parent that requires children but has none blocks:
// the import process may still be creating them.
func (g *Gate) ChildrenAtLeast(ctx context.Context, parentID string, threshold workitem.Status) (bool, error) {
	if parentID == "" {
		return false, fmt.Errorf("dependency gate: parent id required")
	}
	children, err := g.store.Children(ctx, parentID)
	if err != nil {
		return false, fmt.Errorf("dependency gate: list children of %s: %w", parentID, err)
	}
	if len(children) == 0 {
		return false, nil
	}
	for _, child := range children {
		if !workitem.AtLeast(child.Status, threshold) {
			return false, nil
		}
	}
	return true, nil
}

// ForContainers builds a registry gate that applies the children predicate to
// video containers only; every other item type passes straight through.
func (g *Gate) ForContainers(threshold workitem.Status) registry.GateFunc {
	return func(ctx context.Context, item *workitem.Item) (bool, error) {
		if item.Type != workitem.TypeVideoContainer {
			return true, nil
		}
		return g.ChildrenAtLeast(ctx, item.ID, threshold)
	}
}
