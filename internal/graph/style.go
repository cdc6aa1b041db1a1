package graph

import "github.com/kalambet/opconsole/internal/model"

// DefaultTunnelNode is the node id whose outgoing edges use the tunnel palette.
const DefaultTunnelNode = "tunnel"

// Palette names an edge color scheme.
type Palette string

const (
	PaletteDefault Palette = "default"
	PaletteTunnel  Palette = "tunnel"
)

var strokes = map[Palette]string{
	PaletteDefault: "#64748b",
	PaletteTunnel:  "#22d3ee",
}

// EdgeStyle is the presentation derived for one edge.
type EdgeStyle struct {
	Palette  Palette `json:"palette"`
	Stroke   string  `json:"stroke"`
	Animated bool    `json:"animated"`
}

// Styler maps edges to styles. The zero value treats DefaultTunnelNode as the tunnel.
type Styler struct {
	TunnelNode string
}

func (s Styler) tunnel() string {
	if s.TunnelNode == "" {
		return DefaultTunnelNode
	}
	return s.TunnelNode
}

// Style derives the style of e from its endpoints. It holds no state and must be
// re-run for every snapshot.
func (s Styler) Style(e model.EdgeView, nodes map[string]model.NodeView) EdgeStyle {
	palette := PaletteDefault
	src, ok := nodes[e.Source]
	if e.Source == s.tunnel() || (ok && src.Type == model.NodeBridge) {
		palette = PaletteTunnel
	}
	animated := false
	if dst, ok := nodes[e.Target]; ok && dst.Data.Status == model.NodeRunning {
		animated = true
	}
	return EdgeStyle{Palette: palette, Stroke: strokes[palette], Animated: animated}
}
