// Package amqp carries recurring-transaction work items between the
// scheduler and the worker over a durable direct exchange. Delivery is
// at-least-once: handler failures are redelivered with exponential backoff up
// to a bounded attempt cap, then dropped with a logged failure.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

// RetryPolicy bounds redelivery of failed work items.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key (same as queue name for direct exchange)
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishRecurringWork emits one work item for a due recurring template.
func (c *Client) PublishRecurringWork(ctx context.Context, transactionID, userID string) error {
	return c.publish(ctx, NewRecurringWorkMessage(transactionID, userID))
}

func (c *Client) publish(ctx context.Context, msg *RecurringWorkMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.InfoContext(ctx, "Published recurring work item",
		"transaction_id", msg.TransactionID,
		"user_id", msg.UserID,
		"attempt", msg.Attempt,
		"queue", c.queueName)

	return nil
}

// ConsumeRecurringWork delivers work items to handler with manual acks.
// A handler error schedules a redelivery after BackoffBase << attempt until
// MaxAttempts is reached; the failing item is then dropped and logged.
// Malformed payloads are rejected without requeue.
func (c *Client) ConsumeRecurringWork(ctx context.Context, retry RetryPolicy, handler func(context.Context, *RecurringWorkMessage) error) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming recurring work items", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := RecurringWorkMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal work item", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.retryOrDrop(ctx, msg, retry, err)
				delivery.Ack(false) // redelivery is handled by republish, not broker requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) retryOrDrop(ctx context.Context, msg *RecurringWorkMessage, retry RetryPolicy, cause error) {
	if msg.Attempt+1 >= retry.MaxAttempts {
		slog.ErrorContext(ctx, "Work item failed permanently, dropping",
			"transaction_id", msg.TransactionID,
			"user_id", msg.UserID,
			"attempts", msg.Attempt+1,
			"error", cause)
		return
	}

	next := *msg
	next.Attempt++
	backoff := retry.BackoffBase << msg.Attempt

	slog.WarnContext(ctx, "Work item failed, scheduling retry",
		"transaction_id", msg.TransactionID,
		"attempt", next.Attempt,
		"backoff", backoff,
		"error", cause)

	time.AfterFunc(backoff, func() {
		if err := c.publish(context.Background(), &next); err != nil {
			slog.Error("Failed to republish work item",
				"transaction_id", next.TransactionID, "error", err)
		}
	})
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
