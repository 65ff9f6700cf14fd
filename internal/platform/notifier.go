package platform

import (
	"context"
	"log/slog"
)

// DiscardNotifier drops every message.
type DiscardNotifier struct{}

func (DiscardNotifier) Send(context.Context, Message) error { return nil }

// LogNotifier hands messages to the platform's message bus, which for the
// standalone binary is the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, m Message) error {
	n.Logger.InfoContext(ctx, "notification",
		"type", m.Type,
		"program_id", m.ProgramID,
		"allocation_id", m.AllocationID,
		"user_id", m.UserID,
		"subject", m.Subject,
	)
	return nil
}
