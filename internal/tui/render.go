package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
	"github.com/kalambet/opconsole/internal/poll"
	"github.com/kalambet/opconsole/internal/timeline"
)

func renderGraph(th theme, v graph.View) string {
	if !v.Ready {
		if v.LastError != "" {
			return th.errorStatus.Render("graph unavailable: " + v.LastError)
		}
		return th.muted.Render("Waiting for the first graph snapshot...")
	}
	if len(v.Nodes) == 0 {
		return th.muted.Render("The graph is empty.")
	}

	var b strings.Builder
	if v.Editing {
		b.WriteString(th.stale.Render("EDIT MODE · polling paused · /save to submit, /discard to drop changes"))
		b.WriteString("\n\n")
	}

	labels := make(map[string]string, len(v.Nodes))
	for _, n := range v.Nodes {
		labels[n.ID] = nodeLabel(n)
		style, ok := th.nodeStatus[n.Data.Status]
		if !ok {
			style = th.muted
		}
		line := fmt.Sprintf("%s %-24s %-8s (%4.0f,%4.0f)", glyph(n.Type), compact(labels[n.ID], 24), n.Data.Status, n.Position.X, n.Position.Y)
		b.WriteString(style.Render(line))

		var meta []string
		if n.Data.Confidence != nil {
			meta = append(meta, fmt.Sprintf("conf %.2f", *n.Data.Confidence))
		}
		if n.Data.Quality != nil {
			meta = append(meta, fmt.Sprintf("q %.2f", *n.Data.Quality))
		}
		if n.Data.TrustLevel != "" {
			meta = append(meta, "trust "+n.Data.TrustLevel)
		}
		if n.Overridden {
			meta = append(meta, "pinned")
		}
		if n.Local {
			meta = append(meta, "local")
		}
		if len(meta) > 0 {
			b.WriteString(" " + th.muted.Render(strings.Join(meta, " · ")))
		}
		b.WriteString("\n")
	}

	if len(v.Edges) > 0 {
		b.WriteString("\n")
	}
	for _, e := range v.Edges {
		arrow := "──▶"
		if e.Style.Animated {
			arrow = "═▶▶"
		}
		style, ok := th.palette[e.Style.Palette]
		if !ok {
			style = th.muted
		}
		line := fmt.Sprintf("%s %s %s", labelOr(labels, e.Source), arrow, labelOr(labels, e.Target))
		if e.Label != "" {
			line += "  " + e.Label
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func nodeLabel(n graph.RenderNode) string {
	if n.Data.Label != "" {
		return n.Data.Label
	}
	return n.ID
}

func labelOr(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return id
}

var stageMarks = map[pipeline.StageStatus]string{
	pipeline.StatusPending: "○",
	pipeline.StatusDone:    "●",
	pipeline.StatusError:   "✕",
}

func renderPipeline(th theme, rows []pipeline.Row) string {
	if len(rows) == 0 {
		return th.muted.Render("No requests yet. Type a request below and press Enter.")
	}
	var b strings.Builder
	// Newest turn on top.
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		b.WriteString(th.panelTitle.Render(compact(row.Turn.Prompt, 60)))
		if row.Turn.DraftID != "" {
			b.WriteString(" " + th.muted.Render(row.Turn.DraftID))
		}
		b.WriteString("\n")
		chips := make([]string, 0, len(row.Stages))
		for _, st := range row.Stages {
			chip := stageMarks[st.Status] + " " + string(st.Name)
			if st.Detail != "" && st.Status != pipeline.StatusPending {
				chip += " (" + compact(st.Detail, 24) + ")"
			}
			chips = append(chips, th.stageStatus[st.Status].Render(chip))
		}
		b.WriteString("  " + strings.Join(chips, "  ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTimeline(th theme, items []timeline.Item) string {
	if len(items) == 0 {
		return th.muted.Render("No drafts, approvals or runs yet.")
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s %-8s %-9s %s", shortTime(it.CreatedAt), it.Type, it.Status, it.Title)
		if it.Subtitle != "" {
			b.WriteString(" " + th.muted.Render("· "+it.Subtitle))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRuns(th theme, runs []model.Run) string {
	if len(runs) == 0 {
		return th.muted.Render("No runs.")
	}
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(th.panelTitle.Render(fmt.Sprintf("%s · %s · from %s", r.ID, r.Status, r.ApprovedID)) + "\n")
		for _, l := range r.Log {
			line := shortTime(l.Time) + " "
			if l.Level != "" {
				line += strings.ToUpper(l.Level) + " "
			}
			b.WriteString("  " + line + l.Message + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStatus(th theme, statuses []poll.Status) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		var part string
		switch {
		case s.Stopped:
			part = th.muted.Render(s.Name + " idle")
		case s.Suspended:
			part = th.stale.Render(s.Name + " paused")
		case s.Stale:
			part = th.stale.Render(fmt.Sprintf("%s stale (%d failures)", s.Name, s.Failures))
		default:
			part = th.status.Render(fmt.Sprintf("%s %s", s.Name, s.Interval))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "  ")
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}

func compact(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
