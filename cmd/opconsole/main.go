package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	jqFilter string
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "opconsole",
	Short: "Operator console for the orchestration backend",
	Long: `opconsole watches the orchestration backend's execution graph, drafts,
approvals and runs, and sends requests, approvals and run starts back to it.

Examples:
  opconsole graph
  opconsole send "scale payments to three replicas"
  opconsole approve d-42
  opconsole logs r-7 --follow
  opconsole watch`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&jqFilter, "jq", "", "jq expression applied to the JSON output (implies --json)")

	rootCmd.AddCommand(graphCmd, timelineCmd, pipelineCmd, draftsCmd, runsCmd, logsCmd)
	rootCmd.AddCommand(sendCmd, composeCmd, approveCmd, rejectCmd, runCmd)
	rootCmd.AddCommand(watchCmd, serveCmd, historyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
