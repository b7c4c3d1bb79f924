package realtime

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
)

// New returns the broker selected by conf.Realtime.Broker.
func New(ctx context.Context, conf *core.Config) (core.PubSub, error) {
	switch conf.Realtime.Broker {
	case "", "memory":
		return NewMemoryBroker(), nil
	case "redis":
		return NewRedisBroker(ctx, conf.Realtime.RedisAddr, conf.Realtime.RedisDB)
	case "nats":
		return NewNatsBroker(conf.Realtime.NatsURL, conf.AppName)
	default:
		return nil, errors.Errorf("unknown realtime broker %q", conf.Realtime.Broker)
	}
}
