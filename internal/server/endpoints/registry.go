package endpoints

import (
	"github.com/jackzampolin/novella/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&StartJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&ControlJobEndpoint{Action: ActionPause},
		&ControlJobEndpoint{Action: ActionResume},
		&ControlJobEndpoint{Action: ActionCancel},
		&ClearErrorEndpoint{},
		&CredentialEndpoint{},
		&ReportEndpoint{},
		&EntitiesEndpoint{},

		// Saved progress endpoints
		&ListSnapshotsEndpoint{},
		&RestoreSnapshotEndpoint{},
		&DeleteSnapshotEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},

		// Prompt endpoints
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
	}
}
