package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/opconsole/internal/backend"
	"github.com/kalambet/opconsole/internal/console"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
	"github.com/kalambet/opconsole/internal/storage"
)

const testToken = "test-token-12345"

// stubBackend answers every console call from memory.
type stubBackend struct {
	mu         sync.Mutex
	snap       model.GraphSnapshot
	runs       []model.Run
	approveErr error
	saved      []model.SaveGraphRequest
}

func (b *stubBackend) Graph(context.Context) (model.GraphSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap, nil
}

func (b *stubBackend) Collections(context.Context) (backend.Collections, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backend.Collections{
		Drafts: []model.Draft{{ID: "d0", Prompt: "old", Status: model.DraftOpen, CreatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}},
		Runs:   b.runs,
	}, nil
}

func (b *stubBackend) ListRuns(context.Context) ([]model.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs, nil
}

func (b *stubBackend) GetRun(_ context.Context, id string) (model.Run, error) {
	return model.Run{ID: id, Status: model.RunDone}, nil
}

func (b *stubBackend) Generate(_ context.Context, prompt string) (model.Draft, error) {
	return model.Draft{ID: "d1", Prompt: prompt, Status: model.DraftOpen}, nil
}

func (b *stubBackend) CreateDraft(_ context.Context, prompt, content string) (model.Draft, error) {
	return model.Draft{ID: "d-manual", Prompt: prompt, Content: content, Status: model.DraftOpen}, nil
}

func (b *stubBackend) Approve(_ context.Context, draftID string) (model.ApproveResult, error) {
	if b.approveErr != nil {
		return model.ApproveResult{}, b.approveErr
	}
	return model.ApproveResult{Approved: model.Approved{ID: "ap1", DraftID: draftID}}, nil
}

func (b *stubBackend) Reject(_ context.Context, draftID string) (model.Draft, error) {
	return model.Draft{ID: draftID, Status: model.DraftRejected}, nil
}

func (b *stubBackend) CreateRun(_ context.Context, approvedID string) (model.Run, error) {
	return model.Run{ID: "r1", ApprovedID: approvedID, Status: model.RunPending}, nil
}

func (b *stubBackend) SaveGraph(_ context.Context, req model.SaveGraphRequest) (model.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, req)
	return model.Draft{ID: "d-graph", Status: model.DraftOpen}, nil
}

func testSnapshot() model.GraphSnapshot {
	return model.GraphSnapshot{
		Nodes: []model.NodeView{
			{ID: "n1", Type: model.NodeOrchestrator, Data: model.NodeData{Label: "orchestrator", Status: model.NodeDone}},
			{ID: "n2", Type: model.NodeRepo, Position: model.Position{X: 200}, Data: model.NodeData{Label: "api", Status: model.NodeRunning}},
		},
		Edges: []model.EdgeView{{ID: "e1", Source: "n1", Target: "n2"}},
	}
}

func setupServer(t *testing.T, token string) (http.Handler, *console.Console, *stubBackend) {
	t.Helper()
	b := &stubBackend{snap: testSnapshot()}
	c := console.New(b, console.Options{IDs: &graph.CounterIDs{}})
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return NewServer(ServerDeps{Console: c, Token: token}), c, b
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	h, _, _ := setupServer(t, testToken)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuth(t *testing.T) {
	h, _, _ := setupServer(t, testToken)

	if rr := serve(h, authReq(http.MethodGet, "/graph", "", "")); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodGet, "/graph", "", "wrong")); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodGet, "/graph", "", testToken)); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestGraph(t *testing.T) {
	h, _, _ := setupServer(t, "")

	rr := serve(h, authReq(http.MethodGet, "/graph", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var view graph.View
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Ready || len(view.Nodes) != 2 || len(view.Edges) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if !view.Edges[0].Style.Animated {
		t.Error("edge into a running node should be animated")
	}
}

func TestDrag(t *testing.T) {
	h, c, _ := setupServer(t, "")

	rr := serve(h, authReq(http.MethodPost, "/graph/nodes/n2/position", `{"x":10,"y":20}`, ""))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	for _, n := range c.Graph().Nodes {
		if n.ID == "n2" && (n.Position != model.Position{X: 10, Y: 20} || !n.Overridden) {
			t.Errorf("n2 = %+v, want overridden at (10,20)", n)
		}
	}

	rr = serve(h, authReq(http.MethodPost, "/graph/nodes/ghost/position", `{"x":1,"y":1}`, ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown node: status = %d, want 404", rr.Code)
	}

	rr = serve(h, authReq(http.MethodPost, "/graph/nodes/n2/position", `{bad`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", rr.Code)
	}
}

func TestFit(t *testing.T) {
	h, c, _ := setupServer(t, "")

	if rr := serve(h, authReq(http.MethodPost, "/graph/fit", "", "")); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if !c.Graph().Fitted {
		t.Error("view not marked fitted")
	}
}

func TestEditFlow(t *testing.T) {
	h, c, b := setupServer(t, "")

	rr := serve(h, authReq(http.MethodPost, "/graph/edit/save", "", ""))
	if rr.Code != http.StatusConflict {
		t.Fatalf("save outside edit mode: status = %d, want 409", rr.Code)
	}

	if rr := serve(h, authReq(http.MethodPost, "/graph/edit", "", "")); rr.Code != http.StatusOK {
		t.Fatalf("enter edit: status = %d", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodPost, "/graph/edit", "", "")); rr.Code != http.StatusConflict {
		t.Errorf("second enter edit: status = %d, want 409", rr.Code)
	}

	rr = serve(h, authReq(http.MethodPost, "/graph/edit/nodes", `{"label":"review","position":{"x":5,"y":5}}`, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add node: status = %d", rr.Code)
	}
	var node graph.RenderNode
	json.NewDecoder(rr.Body).Decode(&node)
	if !node.Local || node.Type != model.NodeManual || node.ID != "local-1" {
		t.Errorf("node = %+v", node)
	}

	rr = serve(h, authReq(http.MethodPost, "/graph/edit/edges", `{"source":"n2","target":"local-1"}`, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add edge: status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/graph/edit/edges", `{"source":"n2","target":"ghost"}`, ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("edge to unknown node: status = %d, want 404", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/graph/edit/nodes/local-1/position", `{"x":7,"y":8}`, ""))
	if rr.Code != http.StatusNoContent {
		t.Errorf("move node: status = %d, want 204", rr.Code)
	}

	rr = serve(h, authReq(http.MethodPost, "/graph/edit/save", "", ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("save: status = %d", rr.Code)
	}
	if c.Graph().Editing {
		t.Error("edit mode still active after a successful save")
	}
	if len(b.saved) != 1 || len(b.saved[0].Nodes) != 3 || len(b.saved[0].Edges) != 2 {
		t.Fatalf("saved = %+v", b.saved)
	}
}

func TestExitEditDiscards(t *testing.T) {
	h, c, _ := setupServer(t, "")

	serve(h, authReq(http.MethodPost, "/graph/edit", "", ""))
	serve(h, authReq(http.MethodPost, "/graph/edit/nodes", `{"label":"tmp"}`, ""))

	if rr := serve(h, authReq(http.MethodDelete, "/graph/edit", "", "")); rr.Code != http.StatusNoContent {
		t.Fatalf("exit edit: status = %d", rr.Code)
	}
	if v := c.Graph(); v.Editing || len(v.Nodes) != 2 {
		t.Errorf("view after exit = %+v", v)
	}
	if rr := serve(h, authReq(http.MethodDelete, "/graph/edit", "", "")); rr.Code != http.StatusConflict {
		t.Errorf("exit twice: status = %d, want 409", rr.Code)
	}
}

func TestSendApproveRun(t *testing.T) {
	h, _, _ := setupServer(t, "")

	rr := serve(h, authReq(http.MethodPost, "/send", `{"prompt":"deploy api"}`, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("send: status = %d", rr.Code)
	}
	var turn pipeline.Turn
	json.NewDecoder(rr.Body).Decode(&turn)
	if turn.DraftID != "d1" || turn.Prompt != "deploy api" {
		t.Fatalf("turn = %+v", turn)
	}

	if rr := serve(h, authReq(http.MethodPost, "/drafts/d1/approve", "", "")); rr.Code != http.StatusOK {
		t.Fatalf("approve: status = %d", rr.Code)
	}

	rr = serve(h, authReq(http.MethodPost, "/runs", `{"draft_id":"d1"}`, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("run: status = %d", rr.Code)
	}
	var run model.Run
	json.NewDecoder(rr.Body).Decode(&run)
	if run.ApprovedID != "ap1" {
		t.Errorf("run approved_id = %q, want ap1", run.ApprovedID)
	}

	rr = serve(h, authReq(http.MethodGet, "/pipeline", "", ""))
	var rows []pipeline.Row
	if err := json.NewDecoder(rr.Body).Decode(&rows); err != nil {
		t.Fatalf("decode pipeline: %v", err)
	}
	if len(rows) != 1 || rows[0].Turn.DraftID != "d1" {
		t.Fatalf("rows = %+v", rows)
	}
	// No intent was detected, so the first stage stays pending.
	for _, st := range rows[0].Stages[1:4] {
		if st.Status != pipeline.StatusDone {
			t.Errorf("stage %s = %s, want done", st.Name, st.Status)
		}
	}
}

func TestSendValidation(t *testing.T) {
	h, _, _ := setupServer(t, "")

	if rr := serve(h, authReq(http.MethodPost, "/send", `{}`, "")); rr.Code != http.StatusBadRequest {
		t.Errorf("empty prompt: status = %d, want 400", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodPost, "/runs", `{}`, "")); rr.Code != http.StatusBadRequest {
		t.Errorf("run without ids: status = %d, want 400", rr.Code)
	}
	if rr := serve(h, authReq(http.MethodPost, "/runs", `{"draft_id":"never-approved"}`, "")); rr.Code != http.StatusBadRequest {
		t.Errorf("run of unapproved draft: status = %d, want 400", rr.Code)
	}
}

func TestCompose(t *testing.T) {
	h, _, _ := setupServer(t, "")

	rr := serve(h, authReq(http.MethodPost, "/send", `{"prompt":"manual","content":"steps"}`, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("compose: status = %d", rr.Code)
	}
	var turn pipeline.Turn
	json.NewDecoder(rr.Body).Decode(&turn)
	if turn.DraftID != "d-manual" {
		t.Errorf("draft = %q, want d-manual", turn.DraftID)
	}
}

func TestApproveFailureNotifies(t *testing.T) {
	h, _, b := setupServer(t, "")
	b.approveErr = &backend.Error{Kind: backend.KindServer, Op: "POST /drafts/d1/approve", Status: 500, Err: errors.New("boom")}

	rr := serve(h, authReq(http.MethodPost, "/drafts/d1/approve", "", ""))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if typ := errorType(t, rr); typ != "backend_server_error" {
		t.Errorf("error type = %q, want backend_server_error", typ)
	}

	rr = serve(h, authReq(http.MethodGet, "/notifications", "", ""))
	var notes []console.Notification
	json.NewDecoder(rr.Body).Decode(&notes)
	if len(notes) != 1 || notes[0].Level != console.LevelError || notes[0].Kind != backend.KindServer {
		t.Fatalf("notes = %+v", notes)
	}

	rr = serve(h, authReq(http.MethodGet, "/notifications?after=1", "", ""))
	notes = nil
	json.NewDecoder(rr.Body).Decode(&notes)
	if len(notes) != 0 {
		t.Errorf("after=1 returned %d notes", len(notes))
	}

	if rr := serve(h, authReq(http.MethodGet, "/notifications?after=abc", "", "")); rr.Code != http.StatusBadRequest {
		t.Errorf("bad after: status = %d, want 400", rr.Code)
	}
}

func TestReject(t *testing.T) {
	h, _, _ := setupServer(t, "")
	serve(h, authReq(http.MethodPost, "/send", `{"prompt":"drop"}`, ""))

	rr := serve(h, authReq(http.MethodPost, "/drafts/d1/reject", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var d model.Draft
	json.NewDecoder(rr.Body).Decode(&d)
	if d.Status != model.DraftRejected {
		t.Errorf("status = %q, want rejected", d.Status)
	}
}

func TestTimelineAndStatus(t *testing.T) {
	h, _, _ := setupServer(t, "")

	rr := serve(h, authReq(http.MethodGet, "/timeline", "", ""))
	var items []json.RawMessage
	if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("timeline has %d items, want 1", len(items))
	}

	rr = serve(h, authReq(http.MethodGet, "/status", "", ""))
	var status struct {
		LastSync time.Time `json:"last_sync"`
	}
	json.NewDecoder(rr.Body).Decode(&status)
	if status.LastSync.IsZero() {
		t.Error("last_sync should be set after Sync")
	}
}

func TestEvents(t *testing.T) {
	h, c, b := setupServer(t, "")
	b.approveErr = &backend.Error{Kind: backend.KindNetwork, Op: "POST /drafts/d1/approve", Err: errors.New("refused")}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?type=notification", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for c.Hub().Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Only notification events pass the filter.
	c.Drag("n1", model.Position{X: 1, Y: 1})
	c.Approve(context.Background(), "d1")

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if event != "notification" {
		t.Fatalf("event = %q, want notification", event)
	}
	var e struct {
		Type string               `json:"type"`
		Data console.Notification `json:"data"`
	}
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if e.Data.Kind != backend.KindNetwork || e.Data.Action != "approve" {
		t.Errorf("notification = %+v", e.Data)
	}
}

func TestActionsJournaled(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := console.New(&stubBackend{snap: testSnapshot()}, console.Options{Journal: store})
	h := NewServer(ServerDeps{Console: c})

	serve(h, authReq(http.MethodPost, "/send", `{"prompt":"deploy"}`, ""))
	serve(h, authReq(http.MethodPost, "/drafts/d1/reject", "", ""))

	actions, err := store.RecentActions(10)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(actions) != 2 || actions[0].Kind != "reject" || actions[1].Kind != "send" {
		t.Errorf("actions = %+v", actions)
	}
}
