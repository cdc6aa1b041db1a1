package graph

import (
	"fmt"

	"github.com/kalambet/opconsole/internal/model"
)

// Editor holds the local working copy of the graph while edit mode is active.
// Nothing it does reaches the server until SaveRequest is submitted.
type Editor struct {
	nodes  []RenderNode
	edges  []RenderEdge
	ids    IDGenerator
	styler Styler
}

func newEditor(base Result, ids IDGenerator, styler Styler) *Editor {
	if ids == nil {
		ids = &CounterIDs{}
	}
	b := base.clone()
	return &Editor{nodes: b.Nodes, edges: b.Edges, ids: ids, styler: styler}
}

func (e *Editor) has(id string) bool {
	for _, n := range e.nodes {
		if n.ID == id {
			return true
		}
	}
	for _, ed := range e.edges {
		if ed.ID == id {
			return true
		}
	}
	return false
}

func (e *Editor) nextID() string {
	for {
		id := e.ids.NextID()
		if !e.has(id) {
			return id
		}
	}
}

// AddNode creates a local manual node.
func (e *Editor) AddNode(label string, pos model.Position) RenderNode {
	n := RenderNode{
		ID:       e.nextID(),
		Type:     model.NodeManual,
		Position: pos,
		Data:     model.NodeData{Label: label, Status: model.NodePending},
		Local:    true,
	}
	e.nodes = append(e.nodes, n)
	return n
}

// AddEdge connects two existing nodes with a local edge.
func (e *Editor) AddEdge(source, target string) (RenderEdge, error) {
	byID := e.nodeViews()
	if _, ok := byID[source]; !ok {
		return RenderEdge{}, fmt.Errorf("source %q: %w", source, ErrUnknownNode)
	}
	if _, ok := byID[target]; !ok {
		return RenderEdge{}, fmt.Errorf("target %q: %w", target, ErrUnknownNode)
	}
	ev := model.EdgeView{ID: e.nextID(), Source: source, Target: target}
	re := RenderEdge{
		ID:     ev.ID,
		Source: source,
		Target: target,
		Style:  e.styler.Style(ev, byID),
		Local:  true,
	}
	e.edges = append(e.edges, re)
	return re, nil
}

// MoveNode repositions a node inside the edit session.
func (e *Editor) MoveNode(id string, pos model.Position) error {
	for i := range e.nodes {
		if e.nodes[i].ID == id {
			e.nodes[i].Position = pos
			return nil
		}
	}
	return fmt.Errorf("move %q: %w", id, ErrUnknownNode)
}

// Nodes returns a copy of the working nodes.
func (e *Editor) Nodes() []RenderNode {
	return append([]RenderNode(nil), e.nodes...)
}

// Edges returns a copy of the working edges.
func (e *Editor) Edges() []RenderEdge {
	return append([]RenderEdge(nil), e.edges...)
}

// SaveRequest serializes the working graph: ids and data for nodes, endpoints for edges.
func (e *Editor) SaveRequest() model.SaveGraphRequest {
	req := model.SaveGraphRequest{
		Nodes: make([]model.SaveGraphNode, 0, len(e.nodes)),
		Edges: make([]model.SaveGraphEdge, 0, len(e.edges)),
	}
	for _, n := range e.nodes {
		req.Nodes = append(req.Nodes, model.SaveGraphNode{ID: n.ID, Type: n.Type, Data: n.Data})
	}
	for _, ed := range e.edges {
		req.Edges = append(req.Edges, model.SaveGraphEdge{Source: ed.Source, Target: ed.Target})
	}
	return req
}

func (e *Editor) nodeViews() map[string]model.NodeView {
	m := make(map[string]model.NodeView, len(e.nodes))
	for _, n := range e.nodes {
		m[n.ID] = model.NodeView{ID: n.ID, Type: n.Type, Position: n.Position, Data: n.Data}
	}
	return m
}
