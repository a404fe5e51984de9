package bus

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/chimeworks/chime/errors"
)

// RedisBroker delivers messages across processes over Redis pub/sub.
// All services sharing one Redis instance see one bus.
type RedisBroker struct {
	client *redis.Client
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr string // host:port
	DB   int
}

// NewRedisBroker connects to Redis and verifies the connection
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}

	return &RedisBroker{client: client}, nil
}

// Publish implements Broker
func (b *RedisBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", channel)
	}
	return nil
}

// Subscribe implements Broker
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("subscribe requires at least one channel")
	}

	pubsub := b.client.Subscribe(ctx, channels...)

	// Wait for the subscription to be confirmed so messages published
	// after this call are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrapf(err, "failed to subscribe to %v", channels)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []byte, SubscriberChannelBufferSize),
	}
	go sub.pump()
	return sub, nil
}

// Close implements Broker
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan []byte
	closeOnce sync.Once
}

// pump forwards Redis messages into the subscription channel until the
// pubsub closes
func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		s.ch <- []byte(msg.Payload)
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
