package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// DraftStatus is the lifecycle state of a draft.
type DraftStatus string

const (
	DraftOpen     DraftStatus = "draft"
	DraftApproved DraftStatus = "approved"
	DraftRejected DraftStatus = "rejected"
	DraftError    DraftStatus = "error"
)

// Terminal reports whether the draft can no longer change state.
func (s DraftStatus) Terminal() bool {
	return s == DraftApproved || s == DraftRejected || s == DraftError
}

// DraftContext carries what the backend learned while generating the draft.
type DraftContext struct {
	DetectedIntent  string   `json:"detected_intent,omitempty"`
	DecisionPath    []string `json:"decision_path,omitempty"`
	ErrorActionable string   `json:"error_actionable,omitempty"`
}

// UnmarshalJSON decodes the context leniently. Its fields are loosely typed
// on the backend side: scalars of any kind become strings, a lone string
// becomes a one-step decision path, and values of any other shape are
// dropped. A malformed context never fails the draft that carries it.
func (c *DraftContext) UnmarshalJSON(data []byte) error {
	var raw struct {
		DetectedIntent  any `json:"detected_intent"`
		DecisionPath    any `json:"decision_path"`
		ErrorActionable any `json:"error_actionable"`
	}
	*c = DraftContext{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	c.DetectedIntent = scalarString(raw.DetectedIntent)
	c.ErrorActionable = scalarString(raw.ErrorActionable)
	switch v := raw.DecisionPath.(type) {
	case []any:
		for _, step := range v {
			if s := scalarString(step); s != "" {
				c.DecisionPath = append(c.DecisionPath, s)
			}
		}
	default:
		if s := scalarString(v); s != "" {
			c.DecisionPath = []string{s}
		}
	}
	return nil
}

func scalarString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Draft is an unexecuted proposal produced by generation or manual entry.
type Draft struct {
	ID        string        `json:"id"`
	Prompt    string        `json:"prompt"`
	Status    DraftStatus   `json:"status"`
	Content   string        `json:"content,omitempty"`
	Error     string        `json:"error,omitempty"`
	Context   *DraftContext `json:"context,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// DetectedIntent returns the intent recorded for the draft, or "".
func (d Draft) DetectedIntent() string {
	if d.Context == nil {
		return ""
	}
	return d.Context.DetectedIntent
}

// Approved is the immutable, execution-ready artifact created from exactly one draft.
type Approved struct {
	ID         string    `json:"id"`
	DraftID    string    `json:"draft_id"`
	Prompt     string    `json:"prompt"`
	Content    string    `json:"content"`
	ApprovedAt time.Time `json:"approved_at"`
	ApprovedBy string    `json:"approved_by"`
}

// RunStatus is the execution state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunDone      RunStatus = "done"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Active reports whether the run may still produce log lines.
func (s RunStatus) Active() bool {
	return s == RunPending || s == RunRunning
}

// LogLine is one entry of a run log.
type LogLine struct {
	Time    time.Time `json:"ts"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message"`
}

// Run is an execution instance tied to one approved artifact.
type Run struct {
	ID         string    `json:"id"`
	ApprovedID string    `json:"approved_id"`
	Status     RunStatus `json:"status"`
	Log        []LogLine `json:"log"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApproveResult is the response of POST /drafts/{id}/approve.
type ApproveResult struct {
	Approved Approved `json:"approved"`
	Run      *Run     `json:"run,omitempty"`
}

// AnyActive reports whether at least one run is pending or running.
func AnyActive(runs []Run) bool {
	for _, r := range runs {
		if r.Status.Active() {
			return true
		}
	}
	return false
}
