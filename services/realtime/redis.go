package realtime

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/maker/core"
)

// RedisBroker relays messages through redis PUBLISH / SUBSCRIBE so that every API instance
// sees the verifications made on the others.
type RedisBroker struct {
	client *redis.Client
}

var _ core.PubSub = (*RedisBroker)(nil)

func NewRedisBroker(ctx context.Context, addr string, db int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.Wrap(b.client.Publish(ctx, topic, payload).Err(), "publishing to redis")
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (core.Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	// wait for the subscription to be confirmed, so no message published after Subscribe returns is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "subscribing to redis")
	}

	sub := newSubscription(ps.Close)
	go func() {
		defer close(sub.out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-sub.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					_ = sub.Close()
					return
				}
				sub.deliver([]byte(msg.Payload))
			}
		}
	}()
	return sub, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
