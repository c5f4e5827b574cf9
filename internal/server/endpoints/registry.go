package endpoints

import (
	"github.com/scanforge/scanforge/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Document endpoints
		&IngestEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&DocumentStatusEndpoint{},
		&DocumentResultEndpoint{},
		&ProcessEndpoint{},
	}
}

// DocumentCommands groups document operations under one subcommand tree.
func DocumentCommands() []api.Endpoint {
	return []api.Endpoint{
		&IngestEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&DocumentStatusEndpoint{},
		&DocumentResultEndpoint{},
		&ProcessEndpoint{},
	}
}
