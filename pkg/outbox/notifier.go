package outbox

import (
	"context"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// Notifier signals the dispatcher that new entries were committed. Delivery
// is best effort; the dispatcher still polls.
type Notifier interface {
	Notify(ctx context.Context)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
}

// RedisNotifier publishes a wake message on a redis pub/sub channel.
type RedisNotifier struct {
	pub     publisher
	channel string
	logg    *logger.Logger
}

func NewRedisNotifier(pub publisher, channel string, logg *logger.Logger) *RedisNotifier {
	return &RedisNotifier{pub: pub, channel: channel, logg: logg}
}

func (n *RedisNotifier) Notify(ctx context.Context) {
	if n == nil || n.pub == nil || n.channel == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := n.pub.Publish(ctx, n.channel, "wake"); err != nil && n.logg != nil {
		n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "outbox wake publish failed")
	}
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context) {}
