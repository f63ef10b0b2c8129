package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier only logs emails. Use it for local development.
type LogNotifier struct {
	from   string
	logger *zap.Logger
}

func NewLogNotifier(from string, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{from: from, logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, email Email) error {
	if email.From == "" {
		email.From = n.from
	}
	if err := email.Validate(); err != nil {
		return err
	}

	n.logger.Info("email sent",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.Any("headers", email.Headers),
		zap.Int("html_bytes", len(email.HTML)),
		zap.Int("text_bytes", len(email.Text)),
	)
	return nil
}
