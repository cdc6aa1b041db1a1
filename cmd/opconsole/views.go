package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/pipeline"
	"github.com/kalambet/opconsole/internal/timeline"
)

// syncedSession opens a session and fetches every view once.
func syncedSession(cmd *cobra.Command) (*session, error) {
	s, err := openSession(false)
	if err != nil {
		return nil, err
	}
	if err := s.console.Sync(cmd.Context()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the execution graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := syncedSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		v := s.console.Graph()
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), v)
		}
		printGraph(cmd.OutOrStdout(), v)
		return nil
	},
}

func printGraph(w io.Writer, v graph.View) {
	if len(v.Nodes) == 0 {
		fmt.Fprintln(w, "The graph is empty.")
		return
	}
	labels := make(map[string]string, len(v.Nodes))
	for _, n := range v.Nodes {
		label := n.Data.Label
		if label == "" {
			label = n.ID
		}
		labels[n.ID] = label
		fmt.Fprintf(w, "%s  %-12s %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("%-16s", n.ID)),
			n.Type,
			colorize(statusColor(string(n.Data.Status)), fmt.Sprintf("%-8s", n.Data.Status)),
			label,
		)
	}
	if len(v.Edges) > 0 {
		fmt.Fprintln(w)
	}
	for _, e := range v.Edges {
		arrow := "->"
		if e.Style.Animated {
			arrow = "=>"
		}
		fmt.Fprintf(w, "  %s %s %s\n", labelOf(labels, e.Source), arrow, labelOf(labels, e.Target))
	}
}

func labelOf(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return id
}

// --- timeline ---

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show drafts, approvals and runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := syncedSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		items := s.console.Timeline()
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), items)
		}
		printTimeline(cmd.OutOrStdout(), items)
		return nil
	},
}

func init() {
	timelineCmd.Flags().Int("limit", 20, "maximum number of items (0 for all)")
}

func printTimeline(w io.Writer, items []timeline.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No drafts, approvals or runs yet.")
		return
	}
	for _, it := range items {
		fmt.Fprintf(w, "%s  %-8s %s  %s %s\n",
			formatTime(it.CreatedAt),
			it.Type,
			colorize(statusColor(it.Status), fmt.Sprintf("%-9s", it.Status)),
			colorize(colorCyan, it.ID),
			truncate(it.Title, 80),
		)
		if it.Subtitle != "" {
			fmt.Fprintf(w, "    %s\n", colorize(colorDim, it.Subtitle))
		}
	}
}

// --- pipeline ---

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Show the stage progression of recent requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := syncedSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		rows := s.console.Pipeline()
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), rows)
		}
		printPipeline(cmd.OutOrStdout(), rows)
		return nil
	},
}

func printPipeline(w io.Writer, rows []pipeline.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No requests yet.")
		return
	}
	for i := len(rows) - 1; i >= 0; i-- {
		printRow(w, rows[i])
	}
}

func printRow(w io.Writer, row pipeline.Row) {
	head := truncate(row.Turn.Prompt, 60)
	if row.Turn.DraftID != "" {
		head += " " + colorize(colorDim, row.Turn.DraftID)
	}
	fmt.Fprintln(w, colorize(colorBold, head))

	chips := make([]string, 0, len(row.Stages))
	for _, st := range row.Stages {
		var chip string
		switch st.Status {
		case pipeline.StatusDone:
			chip = colorize(colorGreen, "● "+string(st.Name))
		case pipeline.StatusError:
			chip = colorize(colorRed, "✗ "+string(st.Name))
		default:
			chip = colorize(colorDim, "○ "+string(st.Name))
		}
		if st.Detail != "" && st.Status != pipeline.StatusPending {
			chip += " (" + truncate(st.Detail, 24) + ")"
		}
		chips = append(chips, chip)
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(chips, "  "))
}

// --- drafts ---

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List drafts with their detected intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		open, _ := cmd.Flags().GetBool("open")

		s, err := syncedSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var drafts []model.Draft
		for _, d := range s.console.Collections().Drafts {
			if status != "" && string(d.Status) != status {
				continue
			}
			if open && d.Status.Terminal() {
				continue
			}
			drafts = append(drafts, d)
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), drafts)
		}

		w := cmd.OutOrStdout()
		if len(drafts) == 0 {
			fmt.Fprintln(w, "No drafts found.")
			return nil
		}
		for _, d := range drafts {
			fmt.Fprintf(w, "%s  %s  %s  %s\n",
				formatTime(d.CreatedAt),
				colorize(colorCyan, d.ID),
				colorize(statusColor(string(d.Status)), fmt.Sprintf("%-9s", d.Status)),
				truncate(d.Prompt, 80),
			)
			if intent := d.DetectedIntent(); intent != "" {
				fmt.Fprintf(w, "    intent: %s\n", intent)
			}
			if d.Error != "" {
				fmt.Fprintf(w, "    %s\n", colorize(colorRed, d.Error))
			}
		}
		return nil
	},
}

func init() {
	draftsCmd.Flags().String("status", "", "only drafts with this status (draft, approved, rejected, error)")
	draftsCmd.Flags().Bool("open", false, "only drafts that can still be approved or rejected")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := syncedSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		runs := s.console.Runs()
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), runs)
		}
		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(w, "%s  %s  %s  from %s\n",
				formatTime(r.CreatedAt),
				colorize(colorCyan, r.ID),
				colorize(statusColor(string(r.Status)), fmt.Sprintf("%-9s", r.Status)),
				r.ApprovedID,
			)
		}
		return nil
	},
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print a run's log",
	Long: `Print a run's log. With --follow, keep polling until the run settles.

Examples:
  opconsole logs r-7
  opconsole logs r-7 --follow`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		runID := args[0]

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		w := cmd.OutOrStdout()
		if !follow {
			r, err := s.client.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.Context(), w, r)
			}
			printLog(w, r.Log)
			fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "status:"), colorize(statusColor(string(r.Status)), string(r.Status)))
			return nil
		}

		printed := 0
		var last model.Run
		p := s.console.FollowRun(cmd.Context(), runID, func(r model.Run) {
			// Logs only grow; print the lines not seen yet.
			if printed > len(r.Log) {
				printed = 0
			}
			printLog(w, r.Log[printed:])
			printed = len(r.Log)
			last = r
		}, func(err error) {
			printWarning("fetching run %s: %v", runID, err)
		})
		defer p.Cancel()

		select {
		case <-p.Done():
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
		if last.ID == "" {
			return fmt.Errorf("run %s: no state received", runID)
		}
		if last.Status == model.RunFailed || last.Status == model.RunCancelled {
			return fmt.Errorf("run %s %s", runID, last.Status)
		}
		printSuccess("Run %s %s", runID, last.Status)
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "poll until the run settles")
}

func printLog(w io.Writer, lines []model.LogLine) {
	for _, l := range lines {
		level := l.Level
		if level == "" {
			level = "info"
		}
		fmt.Fprintf(w, "%s %-5s %s\n", formatTime(l.Time), strings.ToUpper(level), l.Message)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-------------------"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
