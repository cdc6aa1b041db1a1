// Package graph merges polled graph snapshots with the operator's local
// interaction state (dragged positions, edit-mode additions).
package graph

import (
	"sort"
	"strings"

	"github.com/kalambet/opconsole/internal/model"
)

// RenderNode is a node as it should be drawn.
type RenderNode struct {
	ID         string         `json:"id"`
	Type       model.NodeType `json:"type"`
	Position   model.Position `json:"position"`
	Data       model.NodeData `json:"data"`
	Overridden bool           `json:"overridden,omitempty"`
	Local      bool           `json:"local,omitempty"`
}

// RenderEdge is an edge with its derived style.
type RenderEdge struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Label  string    `json:"label,omitempty"`
	Style  EdgeStyle `json:"style"`
	Local  bool      `json:"local,omitempty"`
}

// Result is the output of one reconciliation.
type Result struct {
	Nodes           []RenderNode `json:"nodes"`
	Edges           []RenderEdge `json:"edges"`
	IDSet           string       `json:"-"`
	TopologyChanged bool         `json:"-"`
}

// IDSet returns the canonical node-set key of a snapshot: sorted ids joined by ",".
func IDSet(nodes []model.NodeView) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Reconcile produces the next render model from snap. Positions come from
// overrides when present, otherwise from the snapshot; node data always comes
// from the snapshot. When the node set differs from previousIDSet the result
// reports TopologyChanged and ignores overrides; the caller must then clear them.
func Reconcile(snap model.GraphSnapshot, overrides Overrides, previousIDSet string, styler Styler) Result {
	idSet := IDSet(snap.Nodes)
	changed := idSet != previousIDSet

	byID := make(map[string]model.NodeView, len(snap.Nodes))
	nodes := make([]RenderNode, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		byID[n.ID] = n
		rn := RenderNode{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.Position,
			Data:     n.Data,
		}
		if !changed && overrides != nil {
			if p, ok := overrides.Lookup(n.ID); ok {
				rn.Position = p
				rn.Overridden = true
			}
		}
		nodes = append(nodes, rn)
	}

	edges := make([]RenderEdge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, RenderEdge{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Label:  e.Label,
			Style:  styler.Style(e, byID),
		})
	}

	return Result{
		Nodes:           nodes,
		Edges:           edges,
		IDSet:           idSet,
		TopologyChanged: changed,
	}
}

// HasRunning reports whether any rendered node is running.
func (r Result) HasRunning() bool {
	for _, n := range r.Nodes {
		if n.Data.Status == model.NodeRunning {
			return true
		}
	}
	return false
}

// Node returns the rendered node with the given id.
func (r Result) Node(id string) (RenderNode, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return RenderNode{}, false
}

func (r Result) clone() Result {
	out := r
	out.Nodes = append([]RenderNode(nil), r.Nodes...)
	out.Edges = append([]RenderEdge(nil), r.Edges...)
	return out
}
