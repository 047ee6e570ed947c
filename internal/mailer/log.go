package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of delivering them.
// Intended for local development only: OTP codes end up in the log.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, html string) error {
	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    html,
	}).Info("Email (logged for development)")
	return nil
}
