package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/obslog"
)

// RedisBus relays envelopes through Redis pub/sub, one channel per topic.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "matchd:relay"
	}
	return &RedisBus{rdb: rdb, prefix: prefix}
}

func (b *RedisBus) channel(env Envelope) string { return b.prefix + ":" + env.topic() }

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := encode(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(env), raw).Err()
}

func (b *RedisBus) Listen(ctx context.Context, deliver func(Envelope)) error {
	ps := b.rdb.PSubscribe(ctx, b.prefix+":*")
	// 구독 확인 응답을 받아야 이후 Publish를 놓치지 않는다.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis relay subscribe: %w", err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := decode([]byte(msg.Payload))
				if err != nil {
					obslog.L().Warn("relay_redis_bad_payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				deliver(env)
			}
		}
	}()
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBus) Close() error { return nil }
