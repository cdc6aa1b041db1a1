package model

// NodeType identifies what a graph node represents on the orchestrator side.
type NodeType string

const (
	NodeBridge       NodeType = "bridge"
	NodeOrchestrator NodeType = "orchestrator"
	NodeRepo         NodeType = "repo"
	NodeCluster      NodeType = "cluster"
	NodeManual       NodeType = "manual"
)

// NodeStatus is the execution state the backend reports for a node.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeDone    NodeStatus = "done"
	NodeFailed  NodeStatus = "failed"
	NodeDoubt   NodeStatus = "doubt"
)

// Position is a node's canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the backend-owned payload of a node. It is never overridden locally.
type NodeData struct {
	Label      string     `json:"label"`
	Status     NodeStatus `json:"status"`
	Confidence *float64   `json:"confidence,omitempty"`
	Quality    *float64   `json:"quality,omitempty"`
	Plan       string     `json:"plan,omitempty"`
	TrustLevel string     `json:"trustLevel,omitempty"`
}

// NodeView is a single node as delivered in a graph snapshot.
type NodeView struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// EdgeView connects two nodes of the same snapshot.
type EdgeView struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// GraphSnapshot is the authoritative topology returned by GET /graph.
// It is replaced wholesale on each successful fetch.
type GraphSnapshot struct {
	Nodes []NodeView `json:"nodes"`
	Edges []EdgeView `json:"edges"`
}

// HasRunning reports whether any node in the snapshot is running.
func (s GraphSnapshot) HasRunning() bool {
	for _, n := range s.Nodes {
		if n.Data.Status == NodeRunning {
			return true
		}
	}
	return false
}

// SaveGraphNode is the serialized form of a node submitted from edit mode.
type SaveGraphNode struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// SaveGraphEdge is the serialized form of an edge submitted from edit mode.
type SaveGraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// SaveGraphRequest is the body of the save-draft call issued when leaving edit mode.
type SaveGraphRequest struct {
	Nodes []SaveGraphNode `json:"nodes"`
	Edges []SaveGraphEdge `json:"edges"`
}
