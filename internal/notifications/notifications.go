// Package notifications defines the outbound alert channel. Delivery is
// best-effort: callers must treat errors as advisory.
package notifications

// Notifier sends an alert with a severity level and message text.
type Notifier interface {
	SendAlert(level, message string) error
}

// Noop discards alerts; used when no channel is configured.
type Noop struct{}

func (Noop) SendAlert(level, message string) error { return nil }
