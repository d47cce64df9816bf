// Package events consumes normalized file-shared events from an AMQP
// queue fed by the webhook layer. It is an optional second intake path
// next to POST /events; both feed the same pipeline entry point.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stashbot/internal/pipeline"
	"stashbot/pkg/domain"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev domain.Event) error

// Consumer reads events from one AMQP queue and hands them to the handler.
type Consumer struct {
	url     string
	queue   string
	handler Handler
}

// NewConsumer validates the connection parameters.
func NewConsumer(url, queueName string, handler Handler) (*Consumer, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	if queueName == "" {
		return nil, errors.New("amqp queue name is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return &Consumer{url: url, queue: queueName, handler: handler}, nil
}

// Run consumes until ctx is canceled or the connection drops. The
// caller decides whether to reconnect.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	slog.Info("amqp consumer started", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev domain.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		slog.Warn("discard malformed event payload", "err", err)
		ack(d)
		return
	}
	if err := c.handler(ctx, ev); err != nil {
		// Validation rejections are terminal; requeueing would loop.
		if errors.Is(err, pipeline.ErrValidation) {
			ack(d)
			return
		}
		slog.Error("event handling failed", "event_id", ev.EventID, "err", err)
		if err := d.Nack(false, false); err != nil {
			slog.Error("nack delivery", "err", err)
		}
		return
	}
	ack(d)
}

func ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		slog.Error("ack delivery", "err", err)
	}
}

// RunWithReconnect loops Run with a fixed backoff until ctx cancels.
func (c *Consumer) RunWithReconnect(ctx context.Context, backoff time.Duration) error {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("amqp consumer disconnected, reconnecting", "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
