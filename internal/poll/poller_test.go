package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/opconsole/internal/model"
)

func graphWith(statuses ...model.NodeStatus) model.GraphSnapshot {
	var snap model.GraphSnapshot
	for i, st := range statuses {
		snap.Nodes = append(snap.Nodes, model.NodeView{
			ID:   string(rune('a' + i)),
			Type: model.NodeRepo,
			Data: model.NodeData{Status: st},
		})
	}
	return snap
}

// scriptedFetch returns the queued results in order, repeating the last one.
type scriptedFetch[T any] struct {
	mu      sync.Mutex
	results []T
	errs    []error
	calls   int
}

func (s *scriptedFetch[T]) fetch(context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func (s *scriptedFetch[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestStep_GraphCadenceSwitchesWithoutDoubleFetch(t *testing.T) {
	src := &scriptedFetch[model.GraphSnapshot]{results: []model.GraphSnapshot{
		graphWith(model.NodePending, model.NodeDone),
		graphWith(model.NodeRunning, model.NodeDone),
		graphWith(model.NodeDone, model.NodeDone),
	}}
	var committed []model.GraphSnapshot
	p := New(Options[model.GraphSnapshot]{
		Name:     "graph",
		Fetch:    src.fetch,
		Interval: DefaultCadence.Graph,
		Initial:  DefaultCadence.GraphIdle,
		Commit:   func(s model.GraphSnapshot) { committed = append(committed, s) },
	})

	want := []time.Duration{5 * time.Second, 2 * time.Second, 5 * time.Second}
	for i, w := range want {
		next, stop := p.Step(context.Background())
		if stop {
			t.Fatalf("step %d: unexpected stop", i)
		}
		if next != w {
			t.Errorf("step %d: next = %v, want %v", i, next, w)
		}
	}
	if src.count() != 3 {
		t.Errorf("fetches = %d, want 3", src.count())
	}
	if len(committed) != 3 {
		t.Errorf("commits = %d, want 3", len(committed))
	}
}

func TestStep_RunLogStopsWhenSettled(t *testing.T) {
	src := &scriptedFetch[[]model.Run]{results: [][]model.Run{
		{{ID: "r1", Status: model.RunRunning}},
		{{ID: "r1", Status: model.RunDone}},
	}}
	p := New(Options[[]model.Run]{
		Name:     "runs",
		Fetch:    src.fetch,
		Interval: DefaultCadence.Runs,
		Initial:  DefaultCadence.RunLog,
	})

	next, stop := p.Step(context.Background())
	if stop || next != 3*time.Second {
		t.Fatalf("first step = (%v, %v), want (3s, false)", next, stop)
	}
	if _, stop = p.Step(context.Background()); !stop {
		t.Fatal("expected stop once no run is active")
	}
	if _, stop = p.Step(context.Background()); !stop {
		t.Fatal("stopped poller must stay stopped")
	}
	if src.count() != 2 {
		t.Errorf("fetches = %d, want 2", src.count())
	}
	if !p.Status().Stopped {
		t.Error("status should report stopped")
	}
}

func TestStep_BackoffDoublesAndCaps(t *testing.T) {
	boom := errors.New("connection refused")
	src := &scriptedFetch[int]{
		results: []int{0, 0, 0, 0, 0, 1},
		errs:    []error{boom, boom, boom, boom, boom, nil},
	}
	var failures int
	p := New(Options[int]{
		Name:     "timeline",
		Fetch:    src.fetch,
		Interval: Fixed[int](time.Second),
		Initial:  time.Second,
		Fail:     func(error) { failures++ },
	})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second, time.Second}
	for i, w := range want {
		next, _ := p.Step(context.Background())
		if next != w {
			t.Errorf("step %d: next = %v, want %v", i, next, w)
		}
	}
	if failures != 5 {
		t.Errorf("fail callbacks = %d, want 5", failures)
	}
	if p.Status().Failures != 0 {
		t.Error("success should reset the failure count")
	}
}

func TestStep_CustomBackoffFactor(t *testing.T) {
	p := New(Options[int]{
		Fetch:            func(context.Context) (int, error) { return 0, errors.New("x") },
		Interval:         Fixed[int](time.Second),
		Initial:          time.Second,
		MaxBackoffFactor: 2,
	})
	var last time.Duration
	for range 5 {
		last, _ = p.Step(context.Background())
	}
	if last != 2*time.Second {
		t.Errorf("capped delay = %v, want 2s", last)
	}
}

func TestStale(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fail := false
	p := New(Options[int]{
		Fetch: func(context.Context) (int, error) {
			if fail {
				return 0, errors.New("down")
			}
			return 1, nil
		},
		Interval: Fixed[int](5 * time.Second),
		Initial:  5 * time.Second,
	})
	p.now = func() time.Time { return base }

	if p.Stale(base) {
		t.Fatal("fresh poller is not stale")
	}
	p.Step(context.Background())
	if p.Stale(base.Add(10 * time.Second)) {
		t.Error("exactly two intervals is not stale yet")
	}
	if !p.Stale(base.Add(11 * time.Second)) {
		t.Error("past two intervals should be stale")
	}

	fail = true
	q := New(Options[int]{Fetch: p.opts.Fetch, Interval: Fixed[int](time.Second), Initial: time.Second})
	q.Step(context.Background())
	if !q.Stale(time.Now()) {
		t.Error("never-succeeded poller with failures should be stale")
	}
}

func TestStep_SuspendDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var commits atomic.Int32
	p := New(Options[int]{
		Fetch: func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		},
		Interval: Fixed[int](time.Second),
		Commit:   func(int) { commits.Add(1) },
	})

	done := make(chan struct{})
	go func() {
		p.Step(context.Background())
		close(done)
	}()
	<-started
	p.Suspend()
	close(release)
	<-done

	if commits.Load() != 0 {
		t.Errorf("commits = %d, want 0 after suspension", commits.Load())
	}
	if !p.Status().Suspended {
		t.Error("status should report suspended")
	}
}

func TestCancel_NoCommitAfterReturn(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var commits atomic.Int32
	p := Schedule(context.Background(), Options[int]{
		Name: "graph",
		Fetch: func(ctx context.Context) (int, error) {
			started <- struct{}{}
			<-release
			return 1, nil
		},
		Interval: Fixed[int](time.Millisecond),
		Commit:   func(int) { commits.Add(1) },
	})

	<-started
	p.Cancel()
	p.Cancel()
	close(release)

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	if commits.Load() != 0 {
		t.Errorf("commits = %d, want 0", commits.Load())
	}
}

func TestSchedule_SingleInFlight(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	p := Schedule(context.Background(), Options[int]{
		Fetch: func(context.Context) (int, error) {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			calls.Add(1)
			return 0, nil
		},
		Interval: Fixed[int](time.Millisecond),
	})

	// Refresh storms must not overlap fetches.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && calls.Load() < 10 {
		p.Refresh()
		time.Sleep(time.Millisecond)
	}
	p.Cancel()
	<-p.Done()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", maxInFlight.Load())
	}
}

func TestResume_FetchesImmediately(t *testing.T) {
	fetched := make(chan struct{}, 16)
	p := Schedule(context.Background(), Options[int]{
		Fetch: func(context.Context) (int, error) {
			fetched <- struct{}{}
			return 0, nil
		},
		Interval: Fixed[int](time.Hour),
	})
	defer p.Cancel()

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial fetch")
	}

	p.Suspend()
	p.Resume()

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("resume did not trigger a fetch before the hour-long interval")
	}
}

func TestResume_NoopWhenRunning(t *testing.T) {
	var calls atomic.Int32
	p := New(Options[int]{
		Fetch:    func(context.Context) (int, error) { calls.Add(1); return 0, nil },
		Interval: Fixed[int](time.Hour),
	})
	p.Resume()
	select {
	case <-p.wake:
		t.Fatal("resume on a live poller should not request a fetch")
	default:
	}
}
