package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 10
	defaultBatchWait = time.Second
)

type RabbitMQConsumer struct {
	client    *RabbitMQ
	batchSize int
	batchWait time.Duration
	logger    *zap.Logger
}

// NewRabbitMQConsumer builds a consumer that hands at most batchSize deliveries
// to its handler, waiting up to batchWait after the first one to fill a batch.
func NewRabbitMQConsumer(client *RabbitMQ, batchSize int, batchWait time.Duration, logger *zap.Logger) *RabbitMQConsumer {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	if batchWait <= 0 {
		batchWait = defaultBatchWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:    client,
		batchSize: batchSize,
		batchWait: batchWait,
		logger:    logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler BatchHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("batch handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler BatchHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.batchSize, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		batch, open := c.collectBatch(ctx, deliveries)
		if len(batch) > 0 {
			if err := c.handleBatch(ctx, batch, handler); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if !open {
			return fmt.Errorf("delivery channel closed")
		}
	}
}

// collectBatch blocks for the first delivery, then gathers more until the batch
// is full or batchWait elapses. The bool result is false once the channel is closed.
func (c *RabbitMQConsumer) collectBatch(ctx context.Context, deliveries <-chan amqp.Delivery) ([]amqp.Delivery, bool) {
	batch := make([]amqp.Delivery, 0, c.batchSize)

	select {
	case <-ctx.Done():
		return batch, true
	case d, ok := <-deliveries:
		if !ok {
			return batch, false
		}
		batch = append(batch, d)
	}

	timer := time.NewTimer(c.batchWait)
	defer timer.Stop()

	for len(batch) < c.batchSize {
		select {
		case <-ctx.Done():
			return batch, true
		case <-timer.C:
			return batch, true
		case d, ok := <-deliveries:
			if !ok {
				return batch, false
			}
			batch = append(batch, d)
		}
	}

	return batch, true
}

func (c *RabbitMQConsumer) handleBatch(ctx context.Context, batch []amqp.Delivery, handler BatchHandler) error {
	records := make([]Record, 0, len(batch))
	for _, d := range batch {
		records = append(records, recordFromDelivery(d))
	}

	dispositions := handler(ctx, records)

	for i, d := range batch {
		disposition := Requeue
		if i < len(dispositions) {
			disposition = dispositions[i]
		}

		if err := settle(d, disposition); err != nil {
			return fmt.Errorf("failed to %s delivery %s: %w", disposition, records[i].MessageID, err)
		}
	}

	return nil
}

func settle(d amqp.Delivery, disposition Disposition) error {
	switch disposition {
	case Ack:
		return d.Ack(false)
	case Reject:
		return d.Reject(false)
	default:
		return d.Nack(false, true)
	}
}

func recordFromDelivery(d amqp.Delivery) Record {
	messageID := d.MessageId
	if messageID == "" {
		messageID = "delivery-" + strconv.FormatUint(d.DeliveryTag, 10)
	}

	return Record{
		MessageID:    messageID,
		Body:         d.Body,
		ReceiveCount: ReceiveCount(d.Headers),
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
