package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Folio server via HTTP.

These commands require a running server (folio serve).
Use --server to specify a custom server URL.

Examples:
  folio api health                  # Check server health
  folio api workflows list --user 1 # List a user's workflows
  folio api workflows get <id>      # Get a specific workflow`,
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Import workflow commands",
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Workflow item commands",
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User management commands",
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Imported book commands",
}

var authorsCmd = &cobra.Command{
	Use:   "authors",
	Short: "Imported author commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8399", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Workflows as subcommand group
	for _, ep := range endpoints.WorkflowCommands() {
		workflowsCmd.AddCommand(ep.Command(getServerURL))
	}

	// Items as subcommand group
	itemsCmd.AddCommand((&endpoints.ItemRunsEndpoint{}).Command(getServerURL))

	// Users as subcommand group
	usersCmd.AddCommand((&endpoints.CreateUserEndpoint{}).Command(getServerURL))

	// Records as subcommand groups
	booksCmd.AddCommand((&endpoints.GetBookEndpoint{}).Command(getServerURL))
	authorsCmd.AddCommand((&endpoints.GetAuthorEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(workflowsCmd)
	apiCmd.AddCommand(itemsCmd)
	apiCmd.AddCommand(usersCmd)
	apiCmd.AddCommand(booksCmd)
	apiCmd.AddCommand(authorsCmd)
	rootCmd.AddCommand(apiCmd)
}
