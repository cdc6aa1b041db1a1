package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/opconsole/internal/model"
)

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <request>",
	Short: "Ask the backend to turn a request into a draft",
	Long: `Ask the backend to turn a natural-language request into a draft.

Examples:
  opconsole send "scale payments to three replicas"
  opconsole send roll back the last deploy of checkout`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return fmt.Errorf("request is required")
		}

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		turn, err := s.console.Send(cmd.Context(), prompt)
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), turn)
		}
		printSuccess("Draft %s created", turn.DraftID)
		if row, ok := s.console.Row(turn.ID); ok {
			printRow(cmd.OutOrStdout(), row)
		}
		return nil
	},
}

// --- compose ---

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Submit a manually written draft",
	Long: `Submit a manually written draft.

Examples:
  opconsole compose --prompt "hotfix" --content "kubectl rollout restart deploy/api"
  opconsole compose --prompt "nightly job" --file ./plan.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		content, _ := cmd.Flags().GetString("content")
		file, _ := cmd.Flags().GetString("file")

		if prompt == "" {
			return fmt.Errorf("--prompt is required")
		}
		if content == "" && file == "" {
			return fmt.Errorf("one of --content or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
		}

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		turn, err := s.console.Compose(cmd.Context(), prompt, content)
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), turn)
		}
		printSuccess("Draft %s created", turn.DraftID)
		return nil
	},
}

func init() {
	composeCmd.Flags().String("prompt", "", "what the draft is for")
	composeCmd.Flags().String("content", "", "draft body")
	composeCmd.Flags().String("file", "", "read the draft body from a file")
}

// --- approve ---

var approveCmd = &cobra.Command{
	Use:   "approve <draft-id>",
	Short: "Approve a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.console.Approve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), res)
		}
		printSuccess("Approved %s as %s", args[0], res.Approved.ID)
		if res.Run != nil {
			printStep("Run %s started", res.Run.ID)
		}
		return nil
	},
}

// --- reject ---

var rejectCmd = &cobra.Command{
	Use:   "reject <draft-id>",
	Short: "Reject a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		d, err := s.console.Reject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), d)
		}
		printSuccess("Rejected %s", d.ID)
		return nil
	},
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [draft-id]",
	Short: "Start a run of an approved draft",
	Long: `Start a run of an approved draft. Name the draft, or pass the approved
artifact directly with --approved.

Examples:
  opconsole run d-42
  opconsole run --approved ap-9`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approvedID, _ := cmd.Flags().GetString("approved")
		if approvedID == "" && len(args) == 0 {
			return fmt.Errorf("a draft id or --approved is required")
		}

		s, err := openSession(false)
		if err != nil {
			return err
		}
		defer s.Close()

		if approvedID == "" {
			// The draft's approval is learned from the backend collections.
			if err := s.console.Sync(cmd.Context()); err != nil {
				return err
			}
		}

		var r model.Run
		if approvedID != "" {
			r, err = s.console.Run(cmd.Context(), approvedID)
		} else {
			r, err = s.console.RunDraft(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), r)
		}
		printSuccess("Run %s started", r.ID)
		printStep("Follow it with: opconsole logs %s --follow", r.ID)
		return nil
	},
}

func init() {
	runCmd.Flags().String("approved", "", "approved artifact id to run")
}
