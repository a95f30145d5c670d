// Package amqp consumes session actions from a RabbitMQ queue and submits them
// to the session manager, so chat bots and other services can produce actions
// without holding a connection to this process.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/pkg/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "tapestry.actions"

const (
	defaultRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = 2 * time.Second
	defaultBusyTimeout   = 30 * time.Second
)

// Submitter accepts validated actions.
type Submitter interface {
	Submit(ctx context.Context, a domain.Action) (uint64, error)
}

// Config configures a Consumer.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	// RetryInterval is the first wait before resubmitting to a busy session.
	// It doubles on every attempt up to two seconds.
	RetryInterval time.Duration
	// BusyTimeout bounds how long one delivery is retried before it is rejected.
	BusyTimeout time.Duration
}

// Consumer reads action messages and acks them once they are queued.
type Consumer struct {
	cfg       Config
	submitter Submitter
	logger    *slog.Logger
}

// NewConsumer creates a consumer. Run connects and blocks.
func NewConsumer(cfg Config, submitter Submitter, logger *slog.Logger) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Consumer{cfg: cfg, submitter: submitter, logger: logger.With("component", "amqp", "queue", cfg.Queue)}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", c.cfg.Queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	tag := fmt.Sprintf("tapestry-%d", time.Now().UnixNano())
	deliveries, err := ch.Consume(c.cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.Info("amqp consumer started", "consumer_tag", tag)

	return c.consume(ctx, deliveries)
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("amqp consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle decodes, validates and submits one delivery, then settles it:
// ack when queued, nack without requeue when the message is malformed or the
// session stayed busy for BusyTimeout. A busy session is retried in place, so
// the next delivery is not taken until this one is settled and per-session
// order is kept. Cancellation requeues the delivery.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	a, err := domain.DecodeAction(d.Body)
	if err == nil {
		a.Seq = 0
		err = a.Validate()
	}
	if err != nil {
		c.logger.Warn("dropping invalid action message", "err", err, "delivery_tag", d.DeliveryTag)
		c.settle(d.Nack(false, false), d)
		return
	}

	err = c.submit(ctx, a)
	switch {
	case err == nil:
		c.settle(d.Ack(false), d)
	case ctx.Err() != nil:
		c.logger.Info("consumer stopping, requeueing delivery", "session_ref", a.SessionRef)
		c.settle(d.Nack(false, true), d)
	case isBusy(err):
		c.logger.Error("session stayed busy, rejecting action",
			"session_ref", a.SessionRef, "kind", a.Kind, "busy_timeout", c.cfg.BusyTimeout, "err", err)
		c.settle(d.Nack(false, false), d)
	default:
		c.logger.Error("failed to submit action", "session_ref", a.SessionRef, "err", err)
		c.settle(d.Nack(false, false), d)
	}
}

// submit retries a with exponential backoff while its session queue is busy.
func (c *Consumer) submit(ctx context.Context, a domain.Action) error {
	deadline := time.Now().Add(c.cfg.BusyTimeout)
	wait := c.cfg.RetryInterval
	for {
		_, err := c.submitter.Submit(ctx, a)
		if err == nil || !isBusy(err) {
			return err
		}
		if time.Now().Add(wait).After(deadline) {
			return err
		}
		c.logger.Debug("session queue busy, retrying", "session_ref", a.SessionRef, "wait", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, maxRetryInterval)
	}
}

func isBusy(err error) bool {
	return errors.Is(err, domain.ErrQueueFull) || errors.Is(err, domain.ErrQueueClosed)
}

func (c *Consumer) settle(err error, d amqp.Delivery) {
	if err != nil {
		c.logger.Error("failed to settle delivery", "err", err, "delivery_tag", d.DeliveryTag)
	}
}
