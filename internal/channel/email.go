package channel

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/meditrack/reminder-api/internal/config"
	"github.com/meditrack/reminder-api/internal/model"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
)

// EmailSender delivers over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *EmailSender) Send(ctx context.Context, recipient, title, body string, _ model.JSONMap) error {
	if recipient == "" {
		return apperrors.NewValidation("email recipient is empty", nil)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", title)
	msg.SetBody("text/plain", body)

	// gomail has no context support; run the dial-and-send in a
	// goroutine so the caller's timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return apperrors.NewChannel("email", ctx.Err())
	case err := <-done:
		if err != nil {
			return apperrors.NewChannel("email", fmt.Errorf("smtp send: %w", err))
		}
		return nil
	}
}
