package graph

import "github.com/kalambet/opconsole/internal/model"

// Overrides is the read side of the position override store.
type Overrides interface {
	Lookup(nodeID string) (model.Position, bool)
}

// OverrideStore maps node ids to the last position the operator dropped them at.
// It is not safe for concurrent use; Session serializes access.
type OverrideStore struct {
	positions map[string]model.Position
}

// NewOverrideStore returns an empty store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{positions: make(map[string]model.Position)}
}

// Set records pos as the override for nodeID.
func (o *OverrideStore) Set(nodeID string, pos model.Position) {
	o.positions[nodeID] = pos
}

// Lookup returns the override for nodeID, if any.
func (o *OverrideStore) Lookup(nodeID string) (model.Position, bool) {
	if o == nil {
		return model.Position{}, false
	}
	p, ok := o.positions[nodeID]
	return p, ok
}

// Clear drops every override.
func (o *OverrideStore) Clear() {
	clear(o.positions)
}

// Len returns the number of stored overrides.
func (o *OverrideStore) Len() int {
	if o == nil {
		return 0
	}
	return len(o.positions)
}
