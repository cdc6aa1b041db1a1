package console

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/opconsole/internal/backend"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
	"github.com/kalambet/opconsole/internal/poll"
	"github.com/kalambet/opconsole/internal/storage"
)

// fakeBackend serves canned responses and counts graph fetches.
type fakeBackend struct {
	mu          sync.Mutex
	snap        model.GraphSnapshot
	cols        backend.Collections
	graphCalls  atomic.Int32
	generateErr error
	approveErr  error
	saveErr     error
	approveRun  *model.Run
	saved       []model.SaveGraphRequest
}

var errServer = &backend.Error{Kind: backend.KindServer, Op: "POST /x", Status: 500, Err: errors.New("boom")}

func (f *fakeBackend) Graph(context.Context) (model.GraphSnapshot, error) {
	f.graphCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeBackend) Collections(context.Context) (backend.Collections, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cols, nil
}

func (f *fakeBackend) ListRuns(context.Context) ([]model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cols.Runs, nil
}

func (f *fakeBackend) GetRun(_ context.Context, id string) (model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.cols.Runs {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Run{}, &backend.Error{Kind: backend.KindServer, Status: 404, Err: errors.New("not found")}
}

func (f *fakeBackend) Generate(_ context.Context, prompt string) (model.Draft, error) {
	if f.generateErr != nil {
		return model.Draft{}, f.generateErr
	}
	return model.Draft{
		ID: "d1", Prompt: prompt, Status: model.DraftOpen,
		Context: &model.DraftContext{DetectedIntent: "deploy"},
	}, nil
}

func (f *fakeBackend) CreateDraft(_ context.Context, prompt, content string) (model.Draft, error) {
	return model.Draft{ID: "d-manual", Prompt: prompt, Content: content, Status: model.DraftOpen}, nil
}

func (f *fakeBackend) Approve(_ context.Context, draftID string) (model.ApproveResult, error) {
	if f.approveErr != nil {
		return model.ApproveResult{}, f.approveErr
	}
	return model.ApproveResult{Approved: model.Approved{ID: "ap1", DraftID: draftID}, Run: f.approveRun}, nil
}

func (f *fakeBackend) Reject(_ context.Context, draftID string) (model.Draft, error) {
	return model.Draft{ID: draftID, Status: model.DraftRejected}, nil
}

func (f *fakeBackend) CreateRun(_ context.Context, approvedID string) (model.Run, error) {
	return model.Run{ID: "r1", ApprovedID: approvedID, Status: model.RunPending}, nil
}

func (f *fakeBackend) SaveGraph(_ context.Context, req model.SaveGraphRequest) (model.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return model.Draft{}, f.saveErr
	}
	f.saved = append(f.saved, req)
	return model.Draft{ID: "d-graph", Status: model.DraftOpen}, nil
}

func openJournal(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func statuses(s pipeline.Stages) []pipeline.StageStatus {
	out := make([]pipeline.StageStatus, len(s))
	for i, st := range s {
		out[i] = st.Status
	}
	return out
}

func TestSendApproveRun(t *testing.T) {
	journal := openJournal(t)
	c := New(&fakeBackend{}, Options{Journal: journal})

	turn, err := c.Send(context.Background(), "deploy the api")
	require.NoError(t, err)
	assert.Equal(t, "d1", turn.DraftID)

	rows := c.Pipeline()
	require.Len(t, rows, 1)
	assert.Equal(t, []pipeline.StageStatus{
		pipeline.StatusDone, pipeline.StatusDone, pipeline.StatusPending, pipeline.StatusPending, pipeline.StatusPending,
	}, statuses(rows[0].Stages))

	_, err = c.Approve(context.Background(), "d1")
	require.NoError(t, err)
	run, err := c.RunDraft(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID)

	rows = c.Pipeline()
	assert.Equal(t, 5, rows[0].Stages.Done())

	stored, err := journal.TurnByDraft("d1")
	require.NoError(t, err)
	assert.Equal(t, turn.ID, stored.ID)

	actions, err := journal.RecentActions(10)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "run", actions[0].Kind)
	assert.True(t, actions[0].OK)
}

func TestSendFailureNotifies(t *testing.T) {
	journal := openJournal(t)
	fb := &fakeBackend{generateErr: &backend.Error{Kind: backend.KindNetwork, Op: "POST /generate", Err: errors.New("connection refused")}}
	c := New(fb, Options{Journal: journal})

	events, cancel := c.Hub().Subscribe(EventNotification)
	defer cancel()

	turn, err := c.Send(context.Background(), "deploy")
	require.Error(t, err)
	assert.NotEmpty(t, turn.Failure)

	rows := c.Pipeline()
	require.Len(t, rows, 1)
	assert.Equal(t, pipeline.StatusError, rows[0].Stages.Get(pipeline.StageDraftCreated).Status)

	notes := c.Notifications(0)
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.Equal(t, backend.KindNetwork, notes[0].Kind)
	assert.Zero(t, notes[0].Status)

	select {
	case e := <-events:
		assert.Equal(t, EventNotification, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no notification event")
	}

	actions, err := journal.RecentActions(1)
	require.NoError(t, err)
	assert.False(t, actions[0].OK)
}

func TestApproveFailureLeavesStateUnchanged(t *testing.T) {
	fb := &fakeBackend{}
	c := New(fb, Options{})
	_, err := c.Send(context.Background(), "deploy")
	require.NoError(t, err)
	before := c.Pipeline()

	fb.approveErr = errServer
	_, err = c.Approve(context.Background(), "d1")
	require.Error(t, err)

	assert.Equal(t, before, c.Pipeline())
	notes := c.Notifications(0)
	require.Len(t, notes, 1)
	assert.Equal(t, "approve", notes[0].Action)
	assert.Equal(t, backend.KindServer, notes[0].Kind)
	assert.Equal(t, 500, notes[0].Status)

	_, err = c.RunDraft(context.Background(), "d1")
	assert.Error(t, err, "run of an unapproved draft")
}

func TestApproveWithImmediateRun(t *testing.T) {
	fb := &fakeBackend{approveRun: &model.Run{ID: "r9", ApprovedID: "ap1", Status: model.RunRunning}}
	c := New(fb, Options{})
	_, err := c.Send(context.Background(), "deploy")
	require.NoError(t, err)

	_, err = c.Approve(context.Background(), "d1")
	require.NoError(t, err)

	s := c.Pipeline()[0].Stages
	assert.Equal(t, "r9", s.Get(pipeline.StageRunCreated).Detail)
	assert.Equal(t, "running", s.Get(pipeline.StageRunStatus).Detail)
}

func TestRejectHaltsPipeline(t *testing.T) {
	c := New(&fakeBackend{}, Options{})
	_, err := c.Send(context.Background(), "drop tables")
	require.NoError(t, err)

	_, err = c.Reject(context.Background(), "d1")
	require.NoError(t, err)

	s := c.Pipeline()[0].Stages
	for _, st := range s[2:] {
		assert.Equal(t, pipeline.StatusPending, st.Status)
	}
}

func TestRestoreFromJournal(t *testing.T) {
	journal := openJournal(t)
	first := New(&fakeBackend{}, Options{Journal: journal})
	_, err := first.Send(context.Background(), "deploy")
	require.NoError(t, err)

	fb := &fakeBackend{cols: backend.Collections{
		Drafts:    []model.Draft{{ID: "d1", Status: model.DraftApproved, Context: &model.DraftContext{DetectedIntent: "deploy"}}},
		Approveds: []model.Approved{{ID: "ap1", DraftID: "d1"}},
		Runs:      []model.Run{{ID: "r1", ApprovedID: "ap1", Status: model.RunDone}},
	}}
	second := New(fb, Options{Journal: journal})
	require.NoError(t, second.Restore())
	require.NoError(t, second.Sync(context.Background()))

	rows := second.Pipeline()
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Stages.Done())
	assert.Len(t, second.Timeline(), 3)
	assert.False(t, second.LastSync().IsZero())
}

func TestActionsLoadTurnsOutsideRestoredWindow(t *testing.T) {
	journal := openJournal(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, journal.SaveTurn(storage.Turn{ID: "t-old", Prompt: "deploy", DraftID: "d1", CreatedAt: created}))
	require.NoError(t, journal.SaveTurn(storage.Turn{ID: "t-other", Prompt: "scale", CreatedAt: created.Add(time.Minute)}))

	// No Restore: the console only knows what it loads on demand.
	c := New(&fakeBackend{}, Options{Journal: journal})
	assert.Empty(t, c.Pipeline())

	_, err := c.Approve(context.Background(), "d1")
	require.NoError(t, err)
	rows := c.Pipeline()
	require.Len(t, rows, 1)
	assert.Equal(t, "t-old", rows[0].Turn.ID)
	assert.Equal(t, pipeline.StatusDone, rows[0].Stages.Get(pipeline.StageApproved).Status)

	row, ok := c.Row("t-other")
	require.True(t, ok)
	assert.Equal(t, "scale", row.Turn.Prompt)
	assert.Len(t, c.Pipeline(), 2)

	_, ok = c.Row("missing")
	assert.False(t, ok)
}

func TestRowWithoutJournal(t *testing.T) {
	c := New(&fakeBackend{}, Options{})
	turn, err := c.Send(context.Background(), "deploy")
	require.NoError(t, err)

	row, ok := c.Row(turn.ID)
	require.True(t, ok)
	assert.Equal(t, "d1", row.Turn.DraftID)

	_, ok = c.Row("missing")
	assert.False(t, ok)
}

func TestSyncRendersGraph(t *testing.T) {
	fb := &fakeBackend{snap: model.GraphSnapshot{
		Nodes: []model.NodeView{
			{ID: "tunnel", Type: model.NodeBridge, Data: model.NodeData{Status: model.NodeDone}},
			{ID: "a", Type: model.NodeRepo, Data: model.NodeData{Status: model.NodeRunning}},
		},
		Edges: []model.EdgeView{{ID: "e1", Source: "tunnel", Target: "a"}},
	}}
	c := New(fb, Options{})
	require.NoError(t, c.Sync(context.Background()))

	v := c.Graph()
	require.True(t, v.Ready)
	require.Len(t, v.Edges, 1)
	assert.Equal(t, graph.PaletteTunnel, v.Edges[0].Style.Palette)
	assert.True(t, v.Edges[0].Style.Animated)

	require.NoError(t, c.Drag("a", model.Position{X: 9, Y: 9}))
	require.NoError(t, c.Sync(context.Background()))
	a, _ := findNode(c.Graph(), "a")
	assert.Equal(t, model.Position{X: 9, Y: 9}, a.Position)
}

func findNode(v graph.View, id string) (graph.RenderNode, bool) {
	for _, n := range v.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return graph.RenderNode{}, false
}

func fastCadence() poll.Cadence {
	return poll.Cadence{
		GraphActive: 5 * time.Millisecond,
		GraphIdle:   5 * time.Millisecond,
		Timeline:    5 * time.Millisecond,
		RunLog:      5 * time.Millisecond,
	}
}

func TestEditModeSuspendsGraphPolling(t *testing.T) {
	fb := &fakeBackend{snap: model.GraphSnapshot{Nodes: []model.NodeView{{ID: "a", Type: model.NodeRepo}}}}
	c := New(fb, Options{Cadence: fastCadence(), IDs: &graph.CounterIDs{}})
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Graph().Ready }, time.Second, time.Millisecond)

	require.NoError(t, c.EnterEdit())
	// Allow an in-flight fetch to settle before sampling.
	time.Sleep(20 * time.Millisecond)
	calls := fb.graphCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fb.graphCalls.Load(), "graph polled while editing")

	require.NoError(t, c.Edit(func(e *graph.Editor) error {
		n := e.AddNode("review", model.Position{X: 1, Y: 1})
		_, err := e.AddEdge("a", n.ID)
		return err
	}))

	fb.mu.Lock()
	fb.saveErr = errServer
	fb.mu.Unlock()
	_, err := c.SaveEdit(context.Background())
	require.Error(t, err)
	assert.True(t, c.Graph().Editing, "failed save keeps edit mode")
	assert.Len(t, c.Graph().Nodes, 2)

	fb.mu.Lock()
	fb.saveErr = nil
	fb.mu.Unlock()
	d, err := c.SaveEdit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d-graph", d.ID)
	assert.False(t, c.Graph().Editing)
	require.Len(t, fb.saved, 1)
	assert.Len(t, fb.saved[0].Nodes, 2)

	require.Eventually(t, func() bool { return fb.graphCalls.Load() > calls }, time.Second, time.Millisecond,
		"polling resumes after save")
}

func TestStopEndsPolling(t *testing.T) {
	fb := &fakeBackend{}
	c := New(fb, Options{Cadence: fastCadence()})
	c.Start(context.Background())
	require.Eventually(t, func() bool { return fb.graphCalls.Load() > 0 }, time.Second, time.Millisecond)

	c.Stop()
	c.Stop()
	time.Sleep(20 * time.Millisecond)
	calls := fb.graphCalls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fb.graphCalls.Load())
	for _, st := range c.Status() {
		assert.True(t, st.Stopped, "poller %s", st.Name)
	}
}

func TestFollowRunStopsWhenSettled(t *testing.T) {
	fb := &fakeBackend{cols: backend.Collections{Runs: []model.Run{{ID: "r1", ApprovedID: "ap1", Status: model.RunDone}}}}
	c := New(fb, Options{Cadence: fastCadence()})

	var got []model.Run
	p := c.FollowRun(context.Background(), "r1", func(r model.Run) { got = append(got, r) }, nil)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("follow did not stop on a settled run")
	}
	require.Len(t, got, 1)
	assert.Equal(t, model.RunDone, got[0].Status)
}

func TestHubFiltersByType(t *testing.T) {
	h := NewHub()
	graphOnly, cancel := h.Subscribe(EventGraph)
	all, cancelAll := h.Subscribe()
	defer cancelAll()

	h.Publish(Event{Type: EventTimeline})
	h.Publish(Event{Type: EventGraph})

	e := <-graphOnly
	assert.Equal(t, EventGraph, e.Type)
	assert.False(t, e.At.IsZero())
	assert.Len(t, all, 2)

	cancel()
	cancel()
	assert.Equal(t, 1, h.Subscribers())
}
