package mail

import (
	"context"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// LogTransport writes rendered mail to the structured log instead of sending
// it. Used in dev and when no provider is configured.
type LogTransport struct {
	logg *logger.Logger
}

func NewLogTransport(logg *logger.Logger) *LogTransport {
	return &LogTransport{logg: logg}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	ctx = t.logg.WithFields(ctx, map[string]any{
		"to":          msg.To,
		"subject":     msg.Subject,
		"text":        msg.Text,
		"attachments": names,
	})
	t.logg.Info(ctx, "mail delivered to log transport")
	return nil
}
