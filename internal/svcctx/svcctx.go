// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/scheduler"
	"github.com/jackzampolin/folio/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store     *store.Store
	Queue     *scheduler.Queue
	Assistant assistant.Client
	Config    *config.Manager
	Logger    *slog.Logger
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

// StoreFrom extracts the store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// QueueFrom extracts the task queue from context.
func QueueFrom(ctx context.Context) *scheduler.Queue {
	if s := ServicesFrom(ctx); s != nil {
		return s.Queue
	}
	return nil
}

// AssistantFrom extracts the assistant client from context.
func AssistantFrom(ctx context.Context) assistant.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.Assistant
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
