package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/opconsole/internal/model"
)

func node(id string, x, y float64, status model.NodeStatus) model.NodeView {
	return model.NodeView{
		ID:       id,
		Type:     model.NodeRepo,
		Position: model.Position{X: x, Y: y},
		Data:     model.NodeData{Label: id, Status: status},
	}
}

func snapshot(nodes ...model.NodeView) model.GraphSnapshot {
	return model.GraphSnapshot{Nodes: nodes}
}

func TestIDSet_SortedAndJoined(t *testing.T) {
	got := IDSet([]model.NodeView{{ID: "c"}, {ID: "a"}, {ID: "b"}})
	assert.Equal(t, "a,b,c", got)
	assert.Equal(t, "", IDSet(nil))
}

func TestReconcile_OverrideWinsOverSnapshotPosition(t *testing.T) {
	store := NewOverrideStore()
	store.Set("a", model.Position{X: 50, Y: 80})

	res := Reconcile(snapshot(node("a", 0, 0, model.NodePending), node("b", 1, 1, model.NodePending)), store, "a,b", Styler{})

	require.False(t, res.TopologyChanged)
	a, ok := res.Node("a")
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 50, Y: 80}, a.Position)
	assert.True(t, a.Overridden)

	b, _ := res.Node("b")
	assert.Equal(t, model.Position{X: 1, Y: 1}, b.Position)
	assert.False(t, b.Overridden)
}

func TestReconcile_TopologyChangeIgnoresOverrides(t *testing.T) {
	store := NewOverrideStore()
	store.Set("a", model.Position{X: 50, Y: 80})

	res := Reconcile(snapshot(node("a", 0, 0, model.NodePending), node("c", 3, 3, model.NodePending)), store, "a,b", Styler{})

	assert.True(t, res.TopologyChanged)
	a, _ := res.Node("a")
	assert.Equal(t, model.Position{}, a.Position)
	assert.Equal(t, "a,c", res.IDSet)
}

func TestReconcile_DataAlwaysFromSnapshot(t *testing.T) {
	store := NewOverrideStore()
	store.Set("a", model.Position{X: 9, Y: 9})
	conf := 0.75

	n := node("a", 0, 0, model.NodeDone)
	n.Data.Confidence = &conf
	res := Reconcile(snapshot(n), store, "a", Styler{})

	want := []RenderNode{{
		ID:         "a",
		Type:       model.NodeRepo,
		Position:   model.Position{X: 9, Y: 9},
		Data:       model.NodeData{Label: "a", Status: model.NodeDone, Confidence: &conf},
		Overridden: true,
	}}
	if diff := cmp.Diff(want, res.Nodes); diff != "" {
		t.Errorf("render nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestStyler_TunnelAndBridgeEdges(t *testing.T) {
	snap := model.GraphSnapshot{
		Nodes: []model.NodeView{
			{ID: "tunnel", Type: model.NodeOrchestrator},
			{ID: "br", Type: model.NodeBridge},
			node("r1", 0, 0, model.NodeRunning),
			node("r2", 0, 0, model.NodeDone),
		},
		Edges: []model.EdgeView{
			{ID: "e1", Source: "tunnel", Target: "r2"},
			{ID: "e2", Source: "br", Target: "r1"},
			{ID: "e3", Source: "r2", Target: "r1"},
			{ID: "e4", Source: "r1", Target: "r2"},
		},
	}

	res := Reconcile(snap, nil, "", Styler{})
	require.Len(t, res.Edges, 4)

	assert.Equal(t, PaletteTunnel, res.Edges[0].Style.Palette)
	assert.False(t, res.Edges[0].Style.Animated)
	assert.Equal(t, PaletteTunnel, res.Edges[1].Style.Palette)
	assert.True(t, res.Edges[1].Style.Animated)
	assert.Equal(t, PaletteDefault, res.Edges[2].Style.Palette)
	assert.True(t, res.Edges[2].Style.Animated)
	assert.Equal(t, EdgeStyle{Palette: PaletteDefault, Stroke: "#64748b"}, res.Edges[3].Style)
}

func TestStyler_CustomTunnelNode(t *testing.T) {
	nodes := map[string]model.NodeView{"gw": {ID: "gw", Type: model.NodeRepo}}
	e := model.EdgeView{Source: "gw", Target: "x"}

	assert.Equal(t, PaletteDefault, Styler{}.Style(e, nodes).Palette)
	assert.Equal(t, PaletteTunnel, Styler{TunnelNode: "gw"}.Style(e, nodes).Palette)
}

func TestStyler_RecomputedPerSnapshot(t *testing.T) {
	edges := []model.EdgeView{{ID: "e", Source: "a", Target: "b"}}
	first := Reconcile(model.GraphSnapshot{Nodes: []model.NodeView{node("a", 0, 0, model.NodeDone), node("b", 0, 0, model.NodeRunning)}, Edges: edges}, nil, "", Styler{})
	second := Reconcile(model.GraphSnapshot{Nodes: []model.NodeView{node("a", 0, 0, model.NodeDone), node("b", 0, 0, model.NodeDone)}, Edges: edges}, nil, first.IDSet, Styler{})

	assert.True(t, first.Edges[0].Style.Animated)
	assert.False(t, second.Edges[0].Style.Animated)
}
