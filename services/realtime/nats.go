package realtime

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
)

// NatsBroker relays messages through a NATS server.
type NatsBroker struct {
	conn *nats.Conn
}

var _ core.PubSub = (*NatsBroker)(nil)

func NewNatsBroker(url, name string) (*NatsBroker, error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, errors.Wrap(err, "failed to nats.Connect")
	}
	return &NatsBroker{conn: nc}, nil
}

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return errors.Wrap(b.conn.Publish(topic, payload), "publishing to nats")
}

func (b *NatsBroker) Subscribe(ctx context.Context, topic string) (core.Subscription, error) {
	msgs := make(chan *nats.Msg, bufferSize)
	natsSub, err := b.conn.ChanSubscribe(topic, msgs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ChanSubscribe")
	}
	if err = b.conn.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, errors.Wrap(err, "flushing nats subscription")
	}

	sub := newSubscription(natsSub.Unsubscribe)
	go func() {
		defer close(sub.out)
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-sub.done:
				return
			case msg := <-msgs:
				sub.deliver(msg.Data)
			}
		}
	}()
	return sub, nil
}

func (b *NatsBroker) Close() error {
	b.conn.Close()
	return nil
}
