package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/opconsole/internal/config"
)

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), keys)
		}
		printStep("Reading %s", config.ConfigPath())
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the backend bearer token in the secret store",
	Long: `Store the backend bearer token in the platform secret store. The token
is read from stdin so it never appears in shell history.

Examples:
  echo "$TOKEN" | opconsole config set-token`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		token := strings.TrimSpace(line)
		if token == "" {
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			return fmt.Errorf("token is empty")
		}

		if err := config.SetToken(token); err != nil {
			return err
		}
		printSuccess("Backend token stored")
		if os.Getenv("OPCONSOLE_BACKEND_TOKEN") != "" {
			printWarning("OPCONSOLE_BACKEND_TOKEN is set and takes precedence over the stored token")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
