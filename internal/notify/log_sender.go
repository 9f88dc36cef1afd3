package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of a provider. Used when no
// provider is configured.
type LogSender struct{}

var (
	_ SMSSender   = LogSender{}
	_ EmailSender = LogSender{}
)

// SendSMS logs the message body.
func (LogSender) SendSMS(_ context.Context, to, body string) error {
	slog.Info("sms_logged", "to", to, "body", body)
	return nil
}

// SendEmail logs the subject; the HTML is only logged at debug level.
func (LogSender) SendEmail(_ context.Context, to, subject, html string) error {
	slog.Info("email_logged", "to", to, "subject", subject, "bytes", len(html))
	slog.Debug("email_body", "to", to, "html", html)
	return nil
}
