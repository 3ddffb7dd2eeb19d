package background

import (
	"context"
	"log/slog"
)

// Notification actions the worker understands.
const (
	// ActionOpen focuses a client window or opens the host page.
	ActionOpen = "open"
	// ActionClose dismisses the notification and nothing else.
	ActionClose = "close"
)

// NotificationAction is one button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a user-visible notification. Raising a second
// notification with the same Tag replaces the first instead of stacking.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Tag     string               `json:"tag,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// Notifier displays notifications on the host's surface.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, tag string) error
}

// LogNotifier logs notifications instead of displaying them, for hosts
// without a display surface.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that writes to the given logger. A nil
// logger makes it a silent no-op.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements the Notifier interface.
func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	if n.logger != nil {
		n.logger.Info("notification", slog.String("tag", notification.Tag), slog.String("title", notification.Title), slog.String("body", notification.Body))
	}

	return nil
}

// Dismiss implements the Notifier interface.
func (n *LogNotifier) Dismiss(_ context.Context, tag string) error {
	if n.logger != nil {
		n.logger.Debug("notification dismissed", slog.String("tag", tag))
	}

	return nil
}
