package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/redis"
)

func TestListenForWakeForwardsPublishedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromRaw(raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.Subscribe(ctx, "ps:email-outbox:wake")
	require.NoError(t, err)
	defer sub.Close()

	woken := make(chan struct{}, 1)
	done := make(chan struct{})
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	go func() {
		defer close(done)
		listenForWake(ctx, sub, func() {
			select {
			case woken <- struct{}{}:
			default:
			}
		}, logg)
	}()

	_, err = client.Publish(ctx, "ps:email-outbox:wake", "wake")
	require.NoError(t, err)

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("expected wake callback")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}
