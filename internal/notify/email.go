package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/gomail.v2"
)

// Email sends the notice over SMTP with the artifact attached when it exists
// on disk.
type Email struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmail returns nil when no host is configured, which Multi skips.
func NewEmail(host string, port int, username, password, from string) *Email {
	if host == "" {
		return nil
	}
	if port <= 0 {
		port = 587
	}
	if from == "" {
		from = username
	}
	return &Email{dialer: gomail.NewDialer(host, port, username, password), from: from}
}

func (e *Email) Send(ctx context.Context, recipients []string, subject, body, artifactRef string) error {
	if e == nil {
		return errors.New("email disabled")
	}
	if len(recipients) == 0 {
		return errors.New("no recipients configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	if artifactRef != "" {
		if _, err := os.Stat(artifactRef); err == nil {
			m.Attach(artifactRef)
		}
	}

	// gomail has no context support; run the dial-and-send in a goroutine so
	// cancellation still bounds the caller. The buffered channel lets a late
	// send finish without leaking.
	done := make(chan error, 1)
	go func() { done <- e.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
