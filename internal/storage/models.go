package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one journaled operator request and the draft it produced.
type Turn struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	DraftID   string    `json:"draft_id,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is one operator action against the backend and its outcome.
type Action struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`   // "send", "approve", "reject", "run", "save"
	Target    string    `json:"target"` // draft, approved or turn id the action addressed
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
