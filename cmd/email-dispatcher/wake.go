package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// listenForWake forwards every message on sub to wake until ctx ends or the
// subscription closes. Polling keeps delivery going if the channel is lost.
func listenForWake(ctx context.Context, sub *goredis.PubSub, wake func(), logg *logger.Logger) {
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				logg.Warn(ctx, "outbox wake subscription closed; falling back to polling")
				return
			}
			logg.Debug(logg.WithField(ctx, "channel", msg.Channel), "outbox wake received")
			wake()
		}
	}
}
