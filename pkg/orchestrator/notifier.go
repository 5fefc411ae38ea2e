package orchestrator

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers progress messages to the user driving a workflow.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID int64, message string)

func (f NotifierFunc) Notify(ctx context.Context, userID int64, message string) {
	f(ctx, userID, message)
}

// LogNotifier writes user messages to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID int64, message string) {
	n.Logger.Info(message, zap.Int64("user", userID))
}
