package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeworks/chime/errors"
)

// Bus publishes and receives messages for one service. Targeted
// messages go to the named service's channel; messages with an empty
// target go to every service via the broadcast channel.
//
// Delivery is at-most-once per subscriber: a service that is not
// subscribed when a message is published never sees it.
type Bus struct {
	broker Broker
	source string
	logger *zap.SugaredLogger
}

// NewBus creates a bus for a service over the given broker.
// source names this service on outgoing messages.
func NewBus(broker Broker, source string, log *zap.SugaredLogger) *Bus {
	return &Bus{
		broker: broker,
		source: source,
		logger: log,
	}
}

// Publish sends an event. An empty target broadcasts to all services.
func (b *Bus) Publish(ctx context.Context, eventType, target string, payload map[string]any) error {
	msg := NewMessage(eventType, b.source, target, payload)

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal event %s", eventType)
	}

	channel := BroadcastChannel
	if target != "" {
		channel = ChannelFor(target)
	}

	if err := b.broker.Publish(ctx, channel, data); err != nil {
		return errors.Wrapf(err, "failed to publish event %s", eventType)
	}

	b.logger.Debugw("Published event",
		"event_type", eventType,
		"event_id", msg.ID,
		"target", target,
	)
	return nil
}

// Handler reacts to one message. Handlers run sequentially on the
// subscriber's dispatch goroutine.
type Handler func(ctx context.Context, msg *Message)

// Subscriber receives messages addressed to one service, plus
// broadcasts. Consume either pull-style via Messages/Listen or
// push-style via On + Run, not both.
type Subscriber struct {
	sub     Subscription
	service string
	msgs    chan *Message
	logger  *zap.SugaredLogger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
}

// Subscribe starts receiving messages for the named service.
// The subscriber sees targeted messages and broadcasts published after
// this call.
func (b *Bus) Subscribe(ctx context.Context, service string) (*Subscriber, error) {
	sub, err := b.broker.Subscribe(ctx, ChannelFor(service), BroadcastChannel)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe service %s", service)
	}

	s := &Subscriber{
		sub:      sub,
		service:  service,
		msgs:     make(chan *Message, SubscriberChannelBufferSize),
		logger:   b.logger,
		handlers: make(map[string][]Handler),
	}
	go s.decode()
	return s, nil
}

// decode unmarshals raw broker payloads into messages, skipping
// malformed ones
func (s *Subscriber) decode() {
	defer close(s.msgs)
	for data := range s.sub.Messages() {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnw("Discarding malformed bus message",
				"service", s.service,
				"error", err,
			)
			continue
		}
		select {
		case s.msgs <- &msg:
		default:
			// Subscriber buffer full, drop the message so an abandoned
			// subscriber never wedges this goroutine
			s.logger.Warnw("Dropping bus message, subscriber buffer full",
				"service", s.service,
				"event_type", msg.Type,
			)
		}
	}
}

// Messages returns the subscriber's message stream. The channel closes
// when the subscriber or broker closes.
func (s *Subscriber) Messages() <-chan *Message {
	return s.msgs
}

// Listen waits for the next message, up to timeout. A timeout of zero
// waits until ctx is done. The returned error wraps the context error
// on timeout so callers can check errors.Is(err, context.DeadlineExceeded).
func (s *Subscriber) Listen(ctx context.Context, timeout time.Duration) (*Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, errors.New("subscription closed")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "no message received")
	}
}

// On registers a handler for an event type. Every handler registered
// for the same event type runs, in registration order.
func (s *Subscriber) On(eventType string, fn Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], fn)
}

// Run dispatches incoming messages to registered handlers until ctx is
// done or the subscription closes. Messages with no matching handler
// are dropped.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgs:
			if !ok {
				return
			}
			s.dispatch(ctx, msg)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg *Message) {
	s.handlersMu.RLock()
	handlers := append([]Handler(nil), s.handlers[msg.Type]...)
	s.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(ctx, msg)
	}
}

// Close stops delivery to this subscriber
func (s *Subscriber) Close() error {
	return s.sub.Close()
}
