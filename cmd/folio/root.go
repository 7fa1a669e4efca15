package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Assistant-driven book and author import service",
	Long: `Folio imports book and author records by driving an AI assistant
through a two-stage extraction conversation.

Each import workflow:
  - Submits the book prompt to the assistant and polls the run
  - Parses the extracted book record and stores it
  - Continues the conversation to extract the author
  - Links the author to the imported book

Failed extractions are retried with fresh runs up to a configured bound,
then the workflow is marked failed and can be retried by hand.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.folio/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}
