package realtime

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
)

var ErrClosed = errors.New("broker closed")

// MemoryBroker fans messages out to the subscribers of the current process.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	closed bool
}

var _ core.PubSub = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*subscription]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[topic] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		sub.deliver(msg)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (core.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	var sub *subscription
	sub = newSubscription(func() error {
		b.remove(topic, sub)
		return nil
	})
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (b *MemoryBroker) remove(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[topic]; ok {
		if _, ok = subs[sub]; ok {
			delete(subs, sub)
			close(sub.out) // no publisher holds the lock: safe to close
		}
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Close closes every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0)
	for _, topicSubs := range b.topics {
		for sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
