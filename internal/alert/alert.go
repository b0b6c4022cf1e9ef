// Package alert defines the outbound alerting boundary. Channel fan-out
// (webhook, email, console) is owned by external collaborators; the
// resilience layer only raises alerts through the Notifier interface.
package alert

import (
	"context"
	"log/slog"
)

// Severity ranks an alert for the downstream fan-out.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier dispatches an alert out of band. Implementations must not
// block the caller for long; delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, description string, data map[string]any)
}

// LogNotifier is the default Notifier: it writes alerts to the structured
// log, where the surrounding deployment's log shipping picks them up.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "alert")}
}

func (n *LogNotifier) Notify(ctx context.Context, severity Severity, title, description string, data map[string]any) {
	attrs := []any{"severity", severity, "title", title, "description", description}
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	switch severity {
	case SeverityCritical:
		n.log.Error("alert", attrs...)
	case SeverityWarning:
		n.log.Warn("alert", attrs...)
	default:
		n.log.Info("alert", attrs...)
	}
}
