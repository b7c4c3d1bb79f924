package realtime

import (
	"sync"

	"github.com/trezcool/maker/core"
)

const bufferSize = 16

// subscription is the core.Subscription shared by all brokers: a forwarding goroutine
// feeds `out` until `done` is closed, then closes `out`.
type subscription struct {
	out         chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func() error
	err         error
}

var _ core.Subscription = (*subscription)(nil)

func newSubscription(unsubscribe func() error) *subscription {
	return &subscription{
		out:         make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.err = s.unsubscribe()
		}
	})
	return s.err
}

// deliver hands payload to the subscriber unless the subscription is closed.
// It gives up on slow subscribers rather than blocking the broker.
func (s *subscription) deliver(payload []byte) bool {
	select {
	case <-s.done:
		return false
	case s.out <- payload:
		return true
	default:
		return false
	}
}
