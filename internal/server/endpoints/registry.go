package endpoints

import (
	"github.com/jackzampolin/folio/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Workflow endpoints
		&CreateWorkflowEndpoint{},
		&ListWorkflowsEndpoint{},
		&GetWorkflowEndpoint{},
		&DeleteWorkflowEndpoint{},
		&RetryWorkflowEndpoint{},

		// Item endpoints
		&ItemRunsEndpoint{},

		// User endpoints
		&CreateUserEndpoint{},

		// Record endpoints
		&GetBookEndpoint{},
		&GetAuthorEndpoint{},
	}
}

// WorkflowCommands returns endpoints for workflow operations.
// This groups workflow-related commands under "workflows" subcommand.
func WorkflowCommands() []api.Endpoint {
	return []api.Endpoint{
		&CreateWorkflowEndpoint{},
		&ListWorkflowsEndpoint{},
		&GetWorkflowEndpoint{},
		&DeleteWorkflowEndpoint{},
		&RetryWorkflowEndpoint{},
	}
}
