package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// MessageHandler processes one message body. A nil error acknowledges the
// delivery, a permanent error rejects it without requeue, anything else
// leaves it unacknowledged for redelivery.
type MessageHandler func(ctx context.Context, body []byte) error

type Consumer struct {
	dialer   *Dialer
	handler  MessageHandler
	notifier domain.Notifier
	log      *logger.Logger
	prefetch int
}

func NewConsumer(dialer *Dialer, handler MessageHandler, notifier domain.Notifier, log *logger.Logger, prefetch int) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		dialer:   dialer,
		handler:  handler,
		notifier: notifier,
		log:      log,
		prefetch: prefetch,
	}
}

// Consume runs on its own connection until ctx is cancelled, the broker
// closes the channel, or prefetch deliveries are left unacknowledged.
func (c *Consumer) Consume(ctx context.Context, queue string) error {
	ctx = logger.WithQueue(ctx, queue)

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	c.log.Info(ctx, "Waiting for messages", "prefetch", c.prefetch)
	return c.serve(ctx, queue, deliveries)
}

func (c *Consumer) serve(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) error {
	unacked := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed by broker")
			}
			if c.settle(ctx, queue, d) {
				continue
			}
			unacked++
			if unacked >= c.prefetch {
				// The broker sends nothing more until these are settled;
				// closing the channel hands them back for redelivery.
				return fmt.Errorf("%d deliveries left unacknowledged", unacked)
			}
		}
	}
}

// settle handles one delivery and reports whether it was settled with the
// broker.
func (c *Consumer) settle(ctx context.Context, queue string, d amqp.Delivery) bool {
	ctx = logger.WithTraceID(logger.WithQueue(ctx, queue), uuid.NewString())

	err := c.handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn(ctx, "Cannot acknowledge message", "delivery_tag", d.DeliveryTag, "error", ackErr)
			return false
		}
		c.log.Debug(ctx, "Message acknowledged", "delivery_tag", d.DeliveryTag)
		return true

	case domain.IsPermanent(err):
		c.log.Error(ctx, "Message rejected", "delivery_tag", d.DeliveryTag, "error", err)
		c.notifier.Notify(ctx, fmt.Sprintf("queue %s: message rejected: %v", queue, err))
		if rejErr := d.Reject(false); rejErr != nil {
			c.log.Warn(ctx, "Cannot reject message", "delivery_tag", d.DeliveryTag, "error", rejErr)
			return false
		}
		return true

	default:
		c.log.Error(ctx, "Message not acknowledged", "delivery_tag", d.DeliveryTag, "error", err)
		c.notifier.Notify(ctx, fmt.Sprintf("queue %s: message not acknowledged: %v", queue, err))
		return false
	}
}
