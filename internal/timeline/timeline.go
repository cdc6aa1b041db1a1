// Package timeline merges drafts, approved artifacts and runs into one
// reverse-chronological activity list.
package timeline

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/opconsole/internal/model"
)

// ItemType is the kind of record an Item was projected from.
type ItemType string

const (
	TypeDraft    ItemType = "draft"
	TypeApproved ItemType = "approved"
	TypeRun      ItemType = "run"
)

const maxTitle = 80

// precedence breaks timestamp ties.
func (t ItemType) precedence() int {
	switch t {
	case TypeDraft:
		return 0
	case TypeApproved:
		return 1
	case TypeRun:
		return 2
	}
	return 3
}

// Item is the uniform projection of a draft, approved artifact or run.
type Item struct {
	ID        string    `json:"id"`
	Type      ItemType  `json:"type"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Aggregate projects the three collections and orders them newest first.
// Equal timestamps are ordered draft, approved, run, then by id, so the
// result depends only on the contents of the inputs, never on their order.
// The inputs are not modified.
func Aggregate(drafts []model.Draft, approveds []model.Approved, runs []model.Run) []Item {
	items := make([]Item, 0, len(drafts)+len(approveds)+len(runs))
	for _, d := range drafts {
		items = append(items, fromDraft(d))
	}
	for _, a := range approveds {
		items = append(items, fromApproved(a))
	}
	for _, r := range runs {
		items = append(items, fromRun(r))
	}
	slices.SortFunc(items, compare)
	return items
}

func compare(a, b Item) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type.precedence(), b.Type.precedence()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	// Duplicate records for one id still need a total order.
	if c := cmp.Compare(a.Status, b.Status); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	return cmp.Compare(a.Subtitle, b.Subtitle)
}

func fromDraft(d model.Draft) Item {
	it := Item{
		ID:        d.ID,
		Type:      TypeDraft,
		Status:    string(d.Status),
		Title:     titleOr(d.Prompt, "Draft "+d.ID),
		CreatedAt: d.CreatedAt,
	}
	switch {
	case d.Status == model.DraftError && d.Error != "":
		it.Subtitle = d.Error
	case d.DetectedIntent() != "":
		it.Subtitle = "intent: " + d.DetectedIntent()
	}
	return it
}

func fromApproved(a model.Approved) Item {
	it := Item{
		ID:        a.ID,
		Type:      TypeApproved,
		Status:    string(model.DraftApproved),
		Title:     titleOr(a.Prompt, "Approved "+a.ID),
		CreatedAt: a.ApprovedAt,
	}
	if a.ApprovedBy != "" {
		it.Subtitle = "by " + a.ApprovedBy
	}
	return it
}

func fromRun(r model.Run) Item {
	it := Item{
		ID:        r.ID,
		Type:      TypeRun,
		Status:    string(r.Status),
		Title:     "Run " + r.ID,
		CreatedAt: r.CreatedAt,
	}
	var parts []string
	if r.ApprovedID != "" {
		parts = append(parts, "from "+r.ApprovedID)
	}
	if n := len(r.Log); n > 0 {
		parts = append(parts, fmt.Sprintf("%d log lines", n))
	}
	it.Subtitle = strings.Join(parts, ", ")
	return it
}

func titleOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	if r := []rune(s); len(r) > maxTitle {
		return string(r[:maxTitle-1]) + "…"
	}
	return s
}
