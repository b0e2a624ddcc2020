// Package notification delivers RSI zone alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chart-rsi/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	AnalysisID string     `json:"analysis_id"`
	Zone       model.Zone `json:"zone"`
	Value      float64    `json:"value"`
}

// ForAnalysis builds the alert for a finished analysis. ok is false when the
// latest RSI is neutral and nothing should be sent.
func ForAnalysis(a *model.Analysis) (alert Alert, ok bool) {
	var title string
	switch a.Zone {
	case model.ZoneOverbought:
		title = "RSI overbought"
	case model.ZoneOversold:
		title = "RSI oversold"
	default:
		return Alert{}, false
	}
	return Alert{
		Level:      AlertWarning,
		Title:      title,
		Message:    fmt.Sprintf("%s: RSI(%d) = %.2f over %d samples", a.FileName, a.Period, a.Latest, len(a.RSI)),
		AnalysisID: a.ID,
		Zone:       a.Zone,
		Value:      a.Latest,
	}, true
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.WarnContext(ctx, alert.Title,
		"level", string(alert.Level),
		"analysis_id", alert.AnalysisID,
		"zone", string(alert.Zone),
		"value", alert.Value,
		"message", alert.Message,
	)
	return nil
}

// Multi sends every alert to each backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
