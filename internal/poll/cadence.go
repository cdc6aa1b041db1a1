package poll

import (
	"time"

	"github.com/kalambet/opconsole/internal/model"
)

// Cadence holds the polling intervals of the console views.
type Cadence struct {
	GraphActive time.Duration
	GraphIdle   time.Duration
	Timeline    time.Duration
	RunLog      time.Duration
}

// DefaultCadence is the stock polling policy.
var DefaultCadence = Cadence{
	GraphActive: 2 * time.Second,
	GraphIdle:   5 * time.Second,
	Timeline:    5 * time.Second,
	RunLog:      3 * time.Second,
}

// Graph polls faster while any node is running.
func (c Cadence) Graph(snap model.GraphSnapshot) time.Duration {
	if snap.HasRunning() {
		return c.GraphActive
	}
	return c.GraphIdle
}

// Fixed returns a selector that always yields d.
func Fixed[T any](d time.Duration) Interval[T] {
	return func(T) time.Duration { return d }
}

// Runs keeps polling the run log while a run is pending or running and
// stops once every run has settled.
func (c Cadence) Runs(runs []model.Run) time.Duration {
	if model.AnyActive(runs) {
		return c.RunLog
	}
	return 0
}

// Run is the single-run variant of Runs.
func (c Cadence) Run(r model.Run) time.Duration {
	if r.Status.Active() {
		return c.RunLog
	}
	return 0
}
