package bus

import (
	"context"
	"sync"

	"github.com/chimeworks/chime/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscription channels
	SubscriberChannelBufferSize = 100
)

// Broker moves serialized messages between named channels. The bus
// layers message semantics on top; brokers only see bytes.
type Broker interface {
	// Publish sends data to every current subscriber of channel
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe returns a subscription receiving data published to any
	// of the given channels after this call
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Close releases broker resources; open subscriptions are closed
	Close() error
}

// Subscription is one subscriber's view of its channels
type Subscription interface {
	// Messages returns the stream of raw payloads. The channel is
	// closed when the subscription or broker closes.
	Messages() <-chan []byte

	// Close stops delivery and closes the Messages channel
	Close() error
}

// MemoryBroker delivers messages between subscribers in the same
// process. Delivery is best-effort: a subscriber whose buffer is full
// misses messages rather than blocking publishers.
type MemoryBroker struct {
	mu       sync.RWMutex
	channels map[string][]*memorySubscription
	closed   bool
}

// NewMemoryBroker creates an in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		channels: make(map[string][]*memorySubscription),
	}
}

// Publish implements Broker
func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New("broker closed")
	}

	for _, sub := range b.channels[channel] {
		select {
		case sub.ch <- data:
		default:
			// Subscriber buffer full, drop the message
		}
	}
	return nil
}

// Subscribe implements Broker
func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, errors.New("subscribe requires at least one channel")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("broker closed")
	}

	sub := &memorySubscription{
		broker:   b,
		channels: channels,
		ch:       make(chan []byte, SubscriberChannelBufferSize),
	}
	for _, channel := range channels {
		b.channels[channel] = append(b.channels[channel], sub)
	}
	return sub, nil
}

// Close implements Broker
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[*memorySubscription]bool)
	for _, subs := range b.channels {
		for _, sub := range subs {
			if !seen[sub] {
				seen[sub] = true
				close(sub.ch)
				sub.closed = true
			}
		}
	}
	b.channels = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	broker   *MemoryBroker
	channels []string
	ch       chan []byte
	closed   bool
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, channel := range s.channels {
		subs := s.broker.channels[channel]
		for i, sub := range subs {
			if sub == s {
				s.broker.channels[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(s.ch)
	return nil
}
