// Package mq publishes processing run events to a message broker.
package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taxdesk/portal/config"
	"github.com/taxdesk/portal/types"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

const (
	attrEvent  = "event"
	attrModule = "module"
	attrStatus = "status"

	eventRunCompleted = "workflow.run.completed"
)

// RunEvents publishes and consumes run events on one channel. A nil
// *RunEvents, or one without a backend, discards events.
type RunEvents struct {
	backend Backend
	channel string
}

// NewRunEvents constructs a RunEvents bound to channel.
func NewRunEvents(backend Backend, channel string) *RunEvents {
	return &RunEvents{backend: backend, channel: channel}
}

// Enabled reports whether events go anywhere.
func (e *RunEvents) Enabled() bool {
	return e != nil && e.backend != nil
}

// Publish sends ev and returns the broker message id.
func (e *RunEvents) Publish(ctx context.Context, ev types.RunEvent) (string, error) {
	if !e.Enabled() {
		return "", nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode run event: %w", err)
	}
	return e.backend.Publish(ctx, e.channel, data, map[string]string{
		attrEvent:  eventRunCompleted,
		attrModule: ev.ModuleID,
		attrStatus: string(ev.Status),
	})
}

// Consume decodes run events and passes them to fn until ctx ends.
// Undecodable messages are acknowledged and dropped.
func (e *RunEvents) Consume(ctx context.Context, fn func(context.Context, types.RunEvent) error) error {
	if !e.Enabled() {
		return fmt.Errorf("run events: no broker configured")
	}
	return e.backend.Subscribe(ctx, e.channel, func(ctx context.Context, msg Message) error {
		var ev types.RunEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil
		}
		return fn(ctx, ev)
	})
}

// Close closes the underlying backend.
func (e *RunEvents) Close() error {
	if !e.Enabled() {
		return nil
	}
	return e.backend.Close()
}

// Open connects to the broker selected by cfg. With the "none" backend
// the returned RunEvents discards everything.
func Open(ctx context.Context, cfg config.MQConfig) (*RunEvents, error) {
	var broker Backend
	switch cfg.Backend {
	case config.MQRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		broker = client
	case config.MQPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		broker = client
	case config.MQNone, "":
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	return NewRunEvents(broker, cfg.Channel), nil
}
