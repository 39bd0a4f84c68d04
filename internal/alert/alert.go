// Package alert delivers the notification sent when the watched vehicle is
// found on a registry.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Match is one registry that lists the vehicle.
type Match struct {
	Source string `json:"source"`
	Label  string `json:"label"`
	URL    string `json:"url"`
}

// Message is what a Dispatcher delivers. Payload is an optional structured
// body for machine consumers.
type Message struct {
	Text    string
	Payload any
}

// Dispatcher delivers a message to one channel.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// BuildMessage renders the user-facing alert text listing every match.
func BuildMessage(matches []Match) string {
	var b strings.Builder
	b.WriteString("⚠️ Обнаружен лот с вашим автомобилем на торгах.\n\n")
	b.WriteString("Проверьте срочно:\n")
	for _, m := range matches {
		name := m.Label
		if name == "" {
			name = m.Source
		}
		fmt.Fprintf(&b, "• %s: %s\n", name, m.URL)
	}
	b.WriteString("\nVIN/госномер из настроек проверки.")
	return b.String()
}

// Multi sends to every dispatcher and joins their errors.
type Multi []Dispatcher

// Send implements Dispatcher.
func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, d := range m {
		if err := d.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogOnly writes the alert to the log. It stands in when no channel is
// configured so a match is never silently dropped.
type LogOnly struct {
	Logger *zap.Logger
}

// Send implements Dispatcher.
func (l LogOnly) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("alert channel not configured; message follows", zap.String("message", msg.Text))
	return nil
}
