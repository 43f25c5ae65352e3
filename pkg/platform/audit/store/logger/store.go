// Package logger is the default audit sink: one structured log line per event.
package logger

import (
	"context"
	"log/slog"

	audit "certreg/pkg/platform/audit"
)

// Store writes audit events to a slog logger.
type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.logger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"event", event.Action,
		"event_id", event.ID,
		"category", string(event.Category),
		"timestamp", event.Timestamp,
		"actor_id", event.ActorID,
		"subject", event.Subject,
		"resource", event.Resource,
		"decision", event.Decision,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"client_ip", event.ClientIP,
	)
	return nil
}
