// Package console is the operator console view-model. It runs one poller per
// view, feeds the graph session, pipeline tracker and timeline, and turns
// operator actions into backend calls whose failures become notifications.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/opconsole/internal/backend"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
	"github.com/kalambet/opconsole/internal/poll"
	"github.com/kalambet/opconsole/internal/storage"
	"github.com/kalambet/opconsole/internal/timeline"
)

// Backend is the subset of the backend client the console drives.
type Backend interface {
	Graph(ctx context.Context) (model.GraphSnapshot, error)
	Collections(ctx context.Context) (backend.Collections, error)
	ListRuns(ctx context.Context) ([]model.Run, error)
	GetRun(ctx context.Context, id string) (model.Run, error)
	Generate(ctx context.Context, prompt string) (model.Draft, error)
	CreateDraft(ctx context.Context, prompt, content string) (model.Draft, error)
	Approve(ctx context.Context, draftID string) (model.ApproveResult, error)
	Reject(ctx context.Context, draftID string) (model.Draft, error)
	CreateRun(ctx context.Context, approvedID string) (model.Run, error)
	SaveGraph(ctx context.Context, req model.SaveGraphRequest) (model.Draft, error)
}

// Journal persists turns and actions across invocations.
type Journal interface {
	SaveTurn(t storage.Turn) error
	GetTurn(id string) (storage.Turn, error)
	TurnByDraft(draftID string) (storage.Turn, error)
	ListTurns(limit int) ([]storage.Turn, error)
	RecordAction(a storage.Action) (int64, error)
}

const restoreTurns = 200

// Options configures a Console.
type Options struct {
	Cadence          poll.Cadence
	MaxBackoffFactor int
	TunnelNode       string
	// IDs generates ids for nodes added in edit mode.
	IDs     graph.IDGenerator
	Journal Journal
	Logger  *slog.Logger
}

// Console holds every view of one operator session.
type Console struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	graph   *graph.Session
	tracker *pipeline.Tracker
	hub     *Hub
	notes   notifications

	mu          sync.Mutex
	collections backend.Collections
	items       []timeline.Item
	runs        []model.Run
	lastSync    time.Time

	// pollMu guards the poller fields. It is taken after the timeline
	// poller's lock and before the runs poller's, so commitRuns must never take it.
	pollMu       sync.Mutex
	ctx          context.Context
	stopped      bool
	graphPoll    *poll.Poller[model.GraphSnapshot]
	timelinePoll *poll.Poller[backend.Collections]
	runsPoll     *poll.Poller[[]model.Run]
}

// New builds a console over b. Nothing is fetched until Start or Sync.
func New(b Backend, opts Options) *Console {
	if opts.Cadence == (poll.Cadence{}) {
		opts.Cadence = poll.DefaultCadence
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Console{
		backend: b,
		opts:    opts,
		logger:  opts.Logger,
		graph:   graph.NewSession(nil, graph.Styler{TunnelNode: opts.TunnelNode}),
		tracker: pipeline.NewTracker(),
		hub:     NewHub(),
	}
}

// Hub returns the event hub views subscribe to.
func (c *Console) Hub() *Hub { return c.hub }

// Restore loads journaled turns so earlier requests keep their pipeline rows.
func (c *Console) Restore() error {
	if c.opts.Journal == nil {
		return nil
	}
	stored, err := c.opts.Journal.ListTurns(restoreTurns)
	if err != nil {
		return fmt.Errorf("restoring turns: %w", err)
	}
	turns := make([]pipeline.Turn, len(stored))
	for i, t := range stored {
		turns[i] = fromJournal(t)
	}
	c.tracker.Restore(turns)
	return nil
}

func fromJournal(t storage.Turn) pipeline.Turn {
	return pipeline.Turn{ID: t.ID, Prompt: t.Prompt, DraftID: t.DraftID, Failure: t.Failure, CreatedAt: t.CreatedAt}
}

// loadTurn tracks a journaled turn that fell outside the restored window.
func (c *Console) loadTurn(lookup func(Journal) (storage.Turn, error)) bool {
	if c.opts.Journal == nil {
		return false
	}
	t, err := lookup(c.opts.Journal)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("loading journaled turn failed", "error", err)
		}
		return false
	}
	c.tracker.Restore([]pipeline.Turn{fromJournal(t)})
	return true
}

// loadDraftTurn makes sure the turn bound to draftID is tracked before an
// action on the draft.
func (c *Console) loadDraftTurn(draftID string) {
	if _, ok := c.tracker.TurnForDraft(draftID); ok {
		return
	}
	c.loadTurn(func(j Journal) (storage.Turn, error) { return j.TurnByDraft(draftID) })
}

// Start launches the graph, timeline and run log pollers. Stop ends them.
func (c *Console) Start(ctx context.Context) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	c.ctx = ctx
	c.graphPoll = poll.Schedule(ctx, poll.Options[model.GraphSnapshot]{
		Name:             "graph",
		Fetch:            c.backend.Graph,
		Interval:         c.opts.Cadence.Graph,
		Initial:          c.opts.Cadence.GraphIdle,
		Commit:           c.commitGraph,
		Fail:             c.failGraph,
		MaxBackoffFactor: c.opts.MaxBackoffFactor,
		Logger:           c.logger,
	})
	c.timelinePoll = poll.Schedule(ctx, poll.Options[backend.Collections]{
		Name:             "timeline",
		Fetch:            c.backend.Collections,
		Interval:         poll.Fixed[backend.Collections](c.opts.Cadence.Timeline),
		Initial:          c.opts.Cadence.Timeline,
		Commit:           c.commitCollections,
		MaxBackoffFactor: c.opts.MaxBackoffFactor,
		Logger:           c.logger,
	})
	c.startRunsLocked(false)
}

// startRunsLocked starts the run log poller unless one is live, in which case
// it optionally asks for an early fetch. Requires pollMu.
func (c *Console) startRunsLocked(refresh bool) {
	if c.ctx == nil || c.stopped {
		return
	}
	if c.runsPoll != nil && !c.runsPoll.Status().Stopped {
		if refresh {
			c.runsPoll.Refresh()
		}
		return
	}
	c.runsPoll = poll.Schedule(c.ctx, poll.Options[[]model.Run]{
		Name:             "runs",
		Fetch:            c.backend.ListRuns,
		Interval:         c.opts.Cadence.Runs,
		Initial:          c.opts.Cadence.RunLog,
		Commit:           c.commitRuns,
		MaxBackoffFactor: c.opts.MaxBackoffFactor,
		Logger:           c.logger,
	})
}

// watchRuns restarts the run log poller, which stops itself once every run
// has settled.
func (c *Console) watchRuns(refresh bool) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	c.startRunsLocked(refresh)
}

// Stop cancels every poller. No view changes after it returns.
func (c *Console) Stop() {
	c.pollMu.Lock()
	c.stopped = true
	c.pollMu.Unlock()
	for _, p := range c.pollers() {
		p.Cancel()
	}
}

type canceller interface {
	Cancel()
	Status() poll.Status
}

func (c *Console) pollers() []canceller {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	var ps []canceller
	if c.graphPoll != nil {
		ps = append(ps, c.graphPoll)
	}
	if c.timelinePoll != nil {
		ps = append(ps, c.timelinePoll)
	}
	if c.runsPoll != nil {
		ps = append(ps, c.runsPoll)
	}
	return ps
}

// Status reports cadence, failures and staleness of every started view.
func (c *Console) Status() []poll.Status {
	var out []poll.Status
	for _, p := range c.pollers() {
		out = append(out, p.Status())
	}
	return out
}

func (c *Console) graphPoller() *poll.Poller[model.GraphSnapshot] {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.graphPoll
}

func (c *Console) refreshTimeline() {
	c.pollMu.Lock()
	p := c.timelinePoll
	c.pollMu.Unlock()
	if p != nil {
		p.Refresh()
	}
}

// Sync fetches every view once without pollers. One-shot CLI commands use it.
func (c *Console) Sync(ctx context.Context) error {
	snap, err := c.backend.Graph(ctx)
	if err != nil {
		c.failGraph(err)
		return fmt.Errorf("fetching graph: %w", err)
	}
	c.commitGraph(snap)

	cols, err := c.backend.Collections(ctx)
	if err != nil {
		return fmt.Errorf("fetching collections: %w", err)
	}
	c.commitCollections(cols)
	c.commitRuns(cols.Runs)
	return nil
}

func (c *Console) commitGraph(snap model.GraphSnapshot) {
	res, applied := c.graph.Apply(snap)
	if !applied {
		return
	}
	if res.TopologyChanged {
		c.logger.Debug("graph topology changed", "nodes", len(res.Nodes))
	}
	c.hub.Publish(Event{Type: EventGraph})
}

func (c *Console) failGraph(err error) {
	c.graph.Fail(err)
	c.hub.Publish(Event{Type: EventGraph})
}

func (c *Console) commitCollections(cols backend.Collections) {
	c.tracker.Observe(cols.Drafts, cols.Approveds, cols.Runs)
	items := timeline.Aggregate(cols.Drafts, cols.Approveds, cols.Runs)

	c.mu.Lock()
	c.collections = cols
	c.items = items
	c.lastSync = time.Now()
	c.mu.Unlock()

	c.hub.Publish(Event{Type: EventTimeline})
	c.hub.Publish(Event{Type: EventPipeline})

	// Runs started elsewhere wake the run log view up again.
	if model.AnyActive(cols.Runs) {
		c.watchRuns(false)
	}
}

func (c *Console) commitRuns(runs []model.Run) {
	c.tracker.Observe(nil, nil, runs)

	c.mu.Lock()
	c.runs = runs
	c.mu.Unlock()

	c.hub.Publish(Event{Type: EventRuns})
	c.hub.Publish(Event{Type: EventPipeline})
}

// --- Views ---

// Graph returns the graph view.
func (c *Console) Graph() graph.View { return c.graph.View() }

// Timeline returns the merged activity list.
func (c *Console) Timeline() []timeline.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]timeline.Item(nil), c.items...)
}

// Collections returns the last fetched drafts, approved artifacts and runs.
func (c *Console) Collections() backend.Collections {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collections
}

// LastSync returns when the collections were last fetched.
func (c *Console) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Runs returns the run log view.
func (c *Console) Runs() []model.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Run(nil), c.runs...)
}

// Pipeline returns one stage row per turn, oldest turn first.
func (c *Console) Pipeline() []pipeline.Row { return c.tracker.Rows() }

// Row returns the pipeline row of one turn, loading it from the journal when
// it is not tracked yet.
func (c *Console) Row(turnID string) (pipeline.Row, bool) {
	if row, ok := c.tracker.Row(turnID); ok {
		return row, true
	}
	if !c.loadTurn(func(j Journal) (storage.Turn, error) { return j.GetTurn(turnID) }) {
		return pipeline.Row{}, false
	}
	return c.tracker.Row(turnID)
}

// Notifications returns notifications newer than after.
func (c *Console) Notifications(after int64) []Notification { return c.notes.since(after) }

// --- Graph interactions ---

// Drag moves a node; outside edit mode the position survives refreshes until
// the topology changes.
func (c *Console) Drag(id string, pos model.Position) error {
	if err := c.graph.Drag(id, pos); err != nil {
		return err
	}
	c.hub.Publish(Event{Type: EventGraph})
	return nil
}

// MarkFitted records that the graph view has been fitted to its content.
func (c *Console) MarkFitted() { c.graph.MarkFitted() }

// EnterEdit suspends graph polling and opens an edit session.
func (c *Console) EnterEdit() error {
	p := c.graphPoller()
	if p != nil {
		p.Suspend()
	}
	if err := c.graph.EnterEdit(c.opts.IDs); err != nil {
		if p != nil && !errors.Is(err, graph.ErrEditing) {
			p.Resume()
		}
		return err
	}
	c.hub.Publish(Event{Type: EventEdit})
	return nil
}

// Edit applies fn to the open edit session.
func (c *Console) Edit(fn func(*graph.Editor) error) error {
	if err := c.graph.Edit(fn); err != nil {
		return err
	}
	c.hub.Publish(Event{Type: EventEdit})
	return nil
}

// ExitEdit discards the edit session and resumes polling with a fresh fetch.
func (c *Console) ExitEdit() error {
	dropped, err := c.graph.ExitEdit()
	if err != nil {
		return err
	}
	c.logger.Debug("edit mode exited", "discarded_local_nodes", dropped)
	if p := c.graphPoller(); p != nil {
		p.Resume()
	}
	c.hub.Publish(Event{Type: EventEdit})
	return nil
}

// SaveEdit submits the edited graph. On success edit mode ends; on failure it
// stays open and a notification is raised.
func (c *Console) SaveEdit(ctx context.Context) (model.Draft, error) {
	req, err := c.graph.SaveRequest()
	if err != nil {
		return model.Draft{}, err
	}
	d, err := c.backend.SaveGraph(ctx, req)
	c.record("save", "graph", err)
	if err != nil {
		c.notify(LevelError, "save", "saving graph failed: "+err.Error(), err)
		return model.Draft{}, err
	}
	if err := c.ExitEdit(); err != nil {
		return d, err
	}
	c.notify(LevelInfo, "save", "graph saved as draft "+d.ID, nil)
	c.refreshTimeline()
	return d, nil
}

// --- Actions ---

// Send opens a turn for prompt and asks the backend to generate a draft.
func (c *Console) Send(ctx context.Context, prompt string) (pipeline.Turn, error) {
	turn := c.tracker.Begin(prompt)
	c.saveTurn(turn)
	c.hub.Publish(Event{Type: EventPipeline})

	d, err := c.backend.Generate(ctx, prompt)
	c.record("send", turn.ID, err)
	if err != nil {
		turn, _ = c.tracker.RecordFailure(turn.ID, err)
		c.saveTurn(turn)
		c.notify(LevelError, "send", "generating draft failed: "+err.Error(), err)
		c.hub.Publish(Event{Type: EventPipeline})
		return turn, err
	}
	return c.bindDraft(turn, d)
}

// Compose opens a turn for a manually written draft.
func (c *Console) Compose(ctx context.Context, prompt, content string) (pipeline.Turn, error) {
	turn := c.tracker.Begin(prompt)
	d, err := c.backend.CreateDraft(ctx, prompt, content)
	c.record("compose", turn.ID, err)
	if err != nil {
		turn, _ = c.tracker.RecordFailure(turn.ID, err)
		c.saveTurn(turn)
		c.notify(LevelError, "compose", "creating draft failed: "+err.Error(), err)
		c.hub.Publish(Event{Type: EventPipeline})
		return turn, err
	}
	return c.bindDraft(turn, d)
}

func (c *Console) bindDraft(turn pipeline.Turn, d model.Draft) (pipeline.Turn, error) {
	turn, err := c.tracker.RecordDraft(turn.ID, d)
	if err != nil {
		return turn, err
	}
	c.saveTurn(turn)
	if d.Status == model.DraftError {
		c.notify(LevelError, "send", "draft "+d.ID+" failed: "+d.Error, nil)
	}
	c.hub.Publish(Event{Type: EventPipeline})
	c.refreshTimeline()
	return turn, nil
}

// Approve approves a draft. A failure leaves every view as it was.
func (c *Console) Approve(ctx context.Context, draftID string) (model.ApproveResult, error) {
	c.loadDraftTurn(draftID)
	res, err := c.backend.Approve(ctx, draftID)
	c.record("approve", draftID, err)
	if err != nil {
		c.notify(LevelError, "approve", "approving "+draftID+" failed: "+err.Error(), err)
		return model.ApproveResult{}, err
	}
	c.tracker.RecordApproval(draftID, res)
	c.hub.Publish(Event{Type: EventPipeline})
	if res.Run != nil {
		c.watchRuns(true)
	}
	c.refreshTimeline()
	return res, nil
}

// Reject rejects a draft. A failure leaves every view as it was.
func (c *Console) Reject(ctx context.Context, draftID string) (model.Draft, error) {
	c.loadDraftTurn(draftID)
	d, err := c.backend.Reject(ctx, draftID)
	c.record("reject", draftID, err)
	if err != nil {
		c.notify(LevelError, "reject", "rejecting "+draftID+" failed: "+err.Error(), err)
		return model.Draft{}, err
	}
	c.tracker.RecordRejection(d)
	c.hub.Publish(Event{Type: EventPipeline})
	c.refreshTimeline()
	return d, nil
}

// Run starts a run of an approved artifact.
func (c *Console) Run(ctx context.Context, approvedID string) (model.Run, error) {
	r, err := c.backend.CreateRun(ctx, approvedID)
	c.record("run", approvedID, err)
	if err != nil {
		c.notify(LevelError, "run", "starting run of "+approvedID+" failed: "+err.Error(), err)
		return model.Run{}, err
	}
	c.tracker.RecordRun(r)
	c.hub.Publish(Event{Type: EventPipeline})
	c.watchRuns(true)
	c.refreshTimeline()
	return r, nil
}

// RunDraft starts a run of the artifact approved from draftID.
func (c *Console) RunDraft(ctx context.Context, draftID string) (model.Run, error) {
	c.loadDraftTurn(draftID)
	approvedID, ok := c.tracker.ApprovedID(draftID)
	if !ok {
		return model.Run{}, fmt.Errorf("draft %s has not been approved", draftID)
	}
	return c.Run(ctx, approvedID)
}

// FollowRun polls one run until it settles, handing every fetched state to fn.
// The returned poller's Done channel closes when the run has settled.
func (c *Console) FollowRun(ctx context.Context, runID string, fn func(model.Run), onErr func(error)) *poll.Poller[model.Run] {
	return poll.Schedule(ctx, poll.Options[model.Run]{
		Name: "run " + runID,
		Fetch: func(ctx context.Context) (model.Run, error) {
			return c.backend.GetRun(ctx, runID)
		},
		Interval: c.opts.Cadence.Run,
		Initial:  c.opts.Cadence.RunLog,
		Commit: func(r model.Run) {
			c.tracker.RecordRun(r)
			fn(r)
		},
		Fail:             onErr,
		MaxBackoffFactor: c.opts.MaxBackoffFactor,
		Logger:           c.logger,
	})
}

func (c *Console) notify(level Level, action, msg string, err error) {
	note := c.notes.add(level, action, msg, err)
	if level == LevelError {
		c.logger.Warn(msg, "action", action, "kind", note.Kind)
	}
	c.hub.Publish(Event{Type: EventNotification, Data: note})
}

func (c *Console) saveTurn(t pipeline.Turn) {
	if c.opts.Journal == nil {
		return
	}
	err := c.opts.Journal.SaveTurn(storage.Turn{
		ID: t.ID, Prompt: t.Prompt, DraftID: t.DraftID, Failure: t.Failure, CreatedAt: t.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("journaling turn failed", "turn", t.ID, "error", err)
	}
}

func (c *Console) record(kind, target string, err error) {
	if c.opts.Journal == nil {
		return
	}
	a := storage.Action{Kind: kind, Target: target, OK: err == nil}
	if err != nil {
		a.Detail = err.Error()
	}
	if _, jerr := c.opts.Journal.RecordAction(a); jerr != nil {
		c.logger.Warn("journaling action failed", "action", kind, "error", jerr)
	}
}
