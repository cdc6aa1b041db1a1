package pipeline

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/opconsole/internal/model"
)

// Turn is one operator request in the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	DraftID   string    `json:"draft_id,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Row is a turn with its freshly derived stages.
type Row struct {
	Turn   Turn   `json:"turn"`
	Stages Stages `json:"stages"`
}

type runRef struct {
	id      string
	status  model.RunStatus
	created time.Time
}

// Tracker collects generate/approve/run outcomes keyed by draft id and
// derives each turn's stages from them. Outcomes may arrive in any order,
// from the action calls or from polled collections.
type Tracker struct {
	mu       sync.Mutex
	order    []string
	turns    map[string]*Turn
	drafts   map[string]model.Draft
	approved map[string]string // draft id -> approved id
	runs     map[string]runRef // approved id -> latest run
	newID    func() string
	now      func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		turns:    make(map[string]*Turn),
		drafts:   make(map[string]model.Draft),
		approved: make(map[string]string),
		runs:     make(map[string]runRef),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Begin opens a new turn for prompt.
func (t *Tracker) Begin(prompt string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := &Turn{ID: t.newID(), Prompt: prompt, CreatedAt: t.now().UTC()}
	t.add(turn)
	return *turn
}

// Restore loads previously journaled turns. Turns already known are skipped;
// the rest are placed by creation time among the tracked ones.
func (t *Tracker) Restore(turns []Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range turns {
		if _, ok := t.turns[tr.ID]; ok {
			continue
		}
		tr := tr
		i := slices.IndexFunc(t.order, func(id string) bool {
			return t.turns[id].CreatedAt.After(tr.CreatedAt)
		})
		if i < 0 {
			t.add(&tr)
			continue
		}
		t.turns[tr.ID] = &tr
		t.order = slices.Insert(t.order, i, tr.ID)
	}
}

func (t *Tracker) add(turn *Turn) {
	t.turns[turn.ID] = turn
	t.order = append(t.order, turn.ID)
}

// RecordDraft binds a turn to the draft its generate call produced.
func (t *Tracker) RecordDraft(turnID string, d model.Draft) (Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.turns[turnID]
	if !ok {
		return Turn{}, fmt.Errorf("turn %s: not found", turnID)
	}
	turn.DraftID = d.ID
	turn.Failure = ""
	if _, ok := t.approved[d.ID]; ok && d.Status == model.DraftOpen {
		d.Status = model.DraftApproved
	}
	t.drafts[d.ID] = d
	return *turn, nil
}

// RecordFailure marks a turn whose generate call never produced a draft.
func (t *Tracker) RecordFailure(turnID string, err error) (Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.turns[turnID]
	if !ok {
		return Turn{}, fmt.Errorf("turn %s: not found", turnID)
	}
	if turn.DraftID == "" {
		turn.Failure = err.Error()
	}
	return *turn, nil
}

// RecordApproval folds in the response of an approve call.
func (t *Tracker) RecordApproval(draftID string, res model.ApproveResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approved[draftID] = res.Approved.ID
	if d, ok := t.drafts[draftID]; ok && d.Status == model.DraftOpen {
		d.Status = model.DraftApproved
		t.drafts[draftID] = d
	}
	if res.Run != nil {
		t.putRun(*res.Run)
	}
}

// RecordRejection stores the draft as returned by the reject call.
func (t *Tracker) RecordRejection(d model.Draft) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drafts[d.ID] = d
}

// RecordRun folds in a run returned by a create-run call or a poll.
func (t *Tracker) RecordRun(r model.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.putRun(r)
}

// Observe folds in the polled drafts, approved artifacts and runs.
func (t *Tracker) Observe(drafts []model.Draft, approveds []model.Approved, runs []model.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range drafts {
		t.drafts[d.ID] = d
	}
	for _, a := range approveds {
		t.approved[a.DraftID] = a.ID
	}
	for _, r := range runs {
		t.putRun(r)
	}
}

// putRun keeps the latest run per approved id; a known run id is updated in place.
func (t *Tracker) putRun(r model.Run) {
	cur, ok := t.runs[r.ApprovedID]
	next := runRef{id: r.ID, status: r.Status, created: r.CreatedAt}
	switch {
	case !ok, cur.id == r.ID:
		t.runs[r.ApprovedID] = next
	case r.CreatedAt.After(cur.created),
		r.CreatedAt.Equal(cur.created) && r.ID > cur.id:
		t.runs[r.ApprovedID] = next
	}
}

func (t *Tracker) inputs(turn *Turn) Inputs {
	in := Inputs{Failure: turn.Failure}
	if turn.DraftID == "" {
		return in
	}
	d, ok := t.drafts[turn.DraftID]
	if !ok {
		d = model.Draft{ID: turn.DraftID, Prompt: turn.Prompt, Status: model.DraftOpen}
	}
	in.Draft = &d
	in.ApprovedID = t.approved[turn.DraftID]
	if in.ApprovedID != "" {
		if r, ok := t.runs[in.ApprovedID]; ok {
			in.RunID, in.RunStatus = r.id, r.status
		}
	}
	return in
}

// Row derives the row of one turn.
func (t *Tracker) Row(turnID string) (Row, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.turns[turnID]
	if !ok {
		return Row{}, false
	}
	return Row{Turn: *turn, Stages: Derive(t.inputs(turn))}, true
}

// TurnForDraft returns the turn bound to draftID.
func (t *Tracker) TurnForDraft(draftID string) (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if tr := t.turns[id]; tr.DraftID == draftID {
			return *tr, true
		}
	}
	return Turn{}, false
}

// ApprovedID returns the approved artifact recorded for draftID.
func (t *Tracker) ApprovedID(draftID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.approved[draftID]
	return id, ok
}

// Rows derives every turn's stages in the order the turns were opened.
func (t *Tracker) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		turn := t.turns[id]
		rows = append(rows, Row{Turn: *turn, Stages: Derive(t.inputs(turn))})
	}
	return rows
}
