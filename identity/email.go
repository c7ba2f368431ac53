package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EmailSender delivers account emails such as confirmation links
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// SentEmail is a message recorded by LoggingEmailSender
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// LoggingEmailSender writes emails to the log instead of delivering them.
// It keeps the most recent messages so they can be inspected.
type LoggingEmailSender struct {
	logger *zap.SugaredLogger
	mu     sync.Mutex
	sent   []SentEmail
}

const maxRecordedEmails = 100

// NewLoggingEmailSender creates a sender that logs every message
func NewLoggingEmailSender(logger *zap.SugaredLogger) *LoggingEmailSender {
	return &LoggingEmailSender{logger: logger}
}

// SendEmail logs the message
func (s *LoggingEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	s.logger.Infow("Email queued (logging sender, not delivered)",
		"to", to,
		"subject", subject,
		"body", htmlBody)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentEmail{To: to, Subject: subject, Body: htmlBody})
	if len(s.sent) > maxRecordedEmails {
		s.sent = s.sent[len(s.sent)-maxRecordedEmails:]
	}
	return nil
}

// Sent returns a copy of the recorded messages, oldest first
func (s *LoggingEmailSender) Sent() []SentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentEmail, len(s.sent))
	copy(out, s.sent)
	return out
}
