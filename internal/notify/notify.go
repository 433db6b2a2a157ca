// Package notify delivers the vacancy notice. A delivery only counts once
// every configured channel accepted it; the watch keeps checking until then.
package notify

import (
	"context"
	"errors"

	"go.uber.org/multierr"
)

// Notifier delivers one vacancy notice. artifactRef is the evidence captured
// by the probe; channels that cannot carry attachments include it as text.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body, artifactRef string) error
}

// Multi fans the notice out to several channels and reports every failure,
// not just the first, so the log entry names all the channels that need
// attention.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, recipients []string, subject, body, artifactRef string) error {
	var errs error
	sent := 0
	for _, n := range m {
		if n == nil {
			continue
		}
		sent++
		errs = multierr.Append(errs, n.Send(ctx, recipients, subject, body, artifactRef))
	}
	if sent == 0 {
		return errors.New("no notification channel is configured")
	}
	return errs
}
