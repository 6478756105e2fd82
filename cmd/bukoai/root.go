package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Davinchi1352/bukoai-sub001/internal/config"
	"github.com/Davinchi1352/bukoai-sub001/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bukoai",
	Short: "Long-form book generation engine over streaming LLM providers",
	Long: `bukoai orchestrates the generation of complete books from a short set
of user parameters.

The pipeline includes:
  - Architecture planning with a user approval gate
  - Chunked chapter generation with continuity context
  - Page-count reconciliation with bounded expansion passes
  - Retry, backoff, and circuit breaking around the provider`,
	Version: version.GitRelease,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml to the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if cfgFile != "" {
			path = cfgFile
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.bukoai/config.yaml)",
	)

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
