// Package pipeline derives the five-stage progress row shown for each
// conversational turn from the independently completing generate, approve
// and run calls.
package pipeline

import "github.com/kalambet/opconsole/internal/model"

// StageName identifies one of the five fixed checkpoints.
type StageName string

const (
	StageIntentDetected StageName = "intent_detected"
	StageDraftCreated   StageName = "draft_created"
	StageApproved       StageName = "approved"
	StageRunCreated     StageName = "run_created"
	StageRunStatus      StageName = "run_status"
)

// Order is the fixed display order of the stages.
var Order = [5]StageName{
	StageIntentDetected,
	StageDraftCreated,
	StageApproved,
	StageRunCreated,
	StageRunStatus,
}

// StageStatus is the state of one stage.
type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusDone    StageStatus = "done"
	StatusError   StageStatus = "error"
)

// Stage is one checkpoint of a turn.
type Stage struct {
	Name   StageName   `json:"name"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Stages always holds exactly five entries in Order.
type Stages [5]Stage

// Inputs is everything known about a turn at derivation time.
// A nil Draft means generation has not produced one yet.
type Inputs struct {
	Draft      *model.Draft
	Failure    string
	ApprovedID string
	RunID      string
	RunStatus  model.RunStatus
}

// DeriveStages computes the stage row for a draft and the ids of what it led to.
func DeriveStages(d model.Draft, approvedID, runID string) Stages {
	return Derive(Inputs{Draft: &d, ApprovedID: approvedID, RunID: runID})
}

// Derive is a pure function of in: identical inputs give identical output
// regardless of the order in which the pieces became known.
//
// A rejected draft halts progression: approved, run_created and run_status stay
// pending and never turn into errors.
func Derive(in Inputs) Stages {
	var s Stages
	for i, name := range Order {
		s[i] = Stage{Name: name, Status: StatusPending}
	}

	d := in.Draft
	if d == nil {
		if in.Failure != "" {
			s[1] = Stage{Name: StageDraftCreated, Status: StatusError, Detail: in.Failure}
			s[4] = Stage{Name: StageRunStatus, Status: StatusError, Detail: in.Failure}
		}
		return s
	}

	if intent := d.DetectedIntent(); intent != "" {
		s[0].Status, s[0].Detail = StatusDone, intent
	}

	failed := d.Status == model.DraftError
	if failed {
		s[1].Status, s[1].Detail = StatusError, draftError(*d)
	} else {
		s[1].Status, s[1].Detail = StatusDone, d.ID
	}

	if in.ApprovedID != "" {
		s[2].Status, s[2].Detail = StatusDone, in.ApprovedID
	}
	if in.RunID != "" {
		s[3].Status, s[3].Detail = StatusDone, in.RunID
	}

	switch {
	case failed:
		s[4].Status, s[4].Detail = StatusError, draftError(*d)
	case in.RunID != "" && in.RunStatus == model.RunFailed:
		s[4].Status, s[4].Detail = StatusError, string(model.RunFailed)
	case in.RunID != "":
		detail := string(in.RunStatus)
		if detail == "" {
			detail = "created"
		}
		s[4].Status, s[4].Detail = StatusDone, detail
	}
	return s
}

func draftError(d model.Draft) string {
	if d.Error != "" {
		return d.Error
	}
	return "generation failed"
}

// Get returns the stage with the given name.
func (s Stages) Get(name StageName) Stage {
	for _, st := range s {
		if st.Name == name {
			return st
		}
	}
	return Stage{Name: name, Status: StatusPending}
}

// Done counts completed stages.
func (s Stages) Done() int {
	n := 0
	for _, st := range s {
		if st.Status == StatusDone {
			n++
		}
	}
	return n
}
