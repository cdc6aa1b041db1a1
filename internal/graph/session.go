package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/opconsole/internal/model"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNotEditing  = errors.New("edit mode is not active")
	ErrEditing     = errors.New("edit mode is already active")
)

// View is what the graph view renders.
type View struct {
	Nodes       []RenderNode `json:"nodes"`
	Edges       []RenderEdge `json:"edges"`
	Ready       bool         `json:"ready"`
	Editing     bool         `json:"editing"`
	Fitted      bool         `json:"fitted"`
	Overrides   int          `json:"overrides"`
	LastError   string       `json:"last_error,omitempty"`
	LastSuccess time.Time    `json:"last_success"`
}

// Session owns the render model of one graph view together with its
// override store, fit-view flag and edit session.
type Session struct {
	mu          sync.Mutex
	overrides   *OverrideStore
	styler      Styler
	current     Result
	idSet       string
	ready       bool
	fitted      bool
	lastErr     error
	lastSuccess time.Time
	editor      *Editor
	now         func() time.Time
}

// NewSession creates a session. A nil store gets a fresh one.
func NewSession(overrides *OverrideStore, styler Styler) *Session {
	if overrides == nil {
		overrides = NewOverrideStore()
	}
	return &Session{overrides: overrides, styler: styler, now: time.Now}
}

// Apply reconciles snap into the render model. It returns false without
// touching anything while edit mode is active.
func (s *Session) Apply(snap model.GraphSnapshot) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor != nil {
		return s.current.clone(), false
	}

	res := Reconcile(snap, s.overrides, s.idSet, s.styler)
	if res.TopologyChanged {
		s.overrides.Clear()
		s.fitted = false
	}
	s.current = res
	s.idSet = res.IDSet
	s.ready = true
	s.lastErr = nil
	s.lastSuccess = s.now()
	return res.clone(), true
}

// Fail records a failed fetch. The render model, overrides and fit flag are kept.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Drag records the operator dropping node id at pos. In edit mode the move
// stays inside the edit session.
func (s *Session) Drag(id string, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor != nil {
		return s.editor.MoveNode(id, pos)
	}
	for i := range s.current.Nodes {
		if s.current.Nodes[i].ID == id {
			s.overrides.Set(id, pos)
			s.current.Nodes[i].Position = pos
			s.current.Nodes[i].Overridden = true
			return nil
		}
	}
	return fmt.Errorf("drag %q: %w", id, ErrUnknownNode)
}

// MarkFitted records that the view has been fit to the current topology.
func (s *Session) MarkFitted() {
	s.mu.Lock()
	s.fitted = true
	s.mu.Unlock()
}

// EnterEdit starts an edit session seeded with the current render model.
func (s *Session) EnterEdit(ids IDGenerator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor != nil {
		return ErrEditing
	}
	s.editor = newEditor(s.current, ids, s.styler)
	return nil
}

// Edit runs fn against the active editor.
func (s *Session) Edit(fn func(*Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return ErrNotEditing
	}
	return fn(s.editor)
}

// SaveRequest serializes the active edit session.
func (s *Session) SaveRequest() (model.SaveGraphRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return model.SaveGraphRequest{}, ErrNotEditing
	}
	return s.editor.SaveRequest(), nil
}

// ExitEdit discards the edit session and returns how many local-only nodes were dropped.
func (s *Session) ExitEdit() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return 0, ErrNotEditing
	}
	dropped := 0
	for _, n := range s.editor.nodes {
		if n.Local {
			dropped++
		}
	}
	s.editor = nil
	return dropped, nil
}

// Editing reports whether edit mode is active.
func (s *Session) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor != nil
}

// HasRunning reports whether the last reconciled model contains a running node.
func (s *Session) HasRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.HasRunning()
}

// View returns a copy of what should be drawn right now.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Ready:       s.ready,
		Editing:     s.editor != nil,
		Fitted:      s.fitted,
		Overrides:   s.overrides.Len(),
		LastSuccess: s.lastSuccess,
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	if s.editor != nil {
		v.Nodes = s.editor.Nodes()
		v.Edges = s.editor.Edges()
	} else {
		c := s.current.clone()
		v.Nodes, v.Edges = c.Nodes, c.Edges
	}
	return v
}
