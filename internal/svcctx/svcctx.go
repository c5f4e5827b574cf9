// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/scanforge/scanforge/internal/config"
	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/home"
	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/pipeline"
	"github.com/scanforge/scanforge/internal/providers"
	"github.com/scanforge/scanforge/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Documents   document.Store
	Ledger      ledger.Ledger
	Coordinator *pipeline.Coordinator
	Registry    *providers.Registry
	Results     store.ResultStore
	Config      *config.Manager
	Logger      *slog.Logger
	Home        *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DocumentsFrom extracts the document store from context.
func DocumentsFrom(ctx context.Context) document.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Documents
	}
	return nil
}

// LedgerFrom extracts the chunk ledger from context.
func LedgerFrom(ctx context.Context) ledger.Ledger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ledger
	}
	return nil
}

// CoordinatorFrom extracts the pipeline coordinator from context.
func CoordinatorFrom(ctx context.Context) *pipeline.Coordinator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Coordinator
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ResultsFrom extracts the result store from context.
func ResultsFrom(ctx context.Context) store.ResultStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Results
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
