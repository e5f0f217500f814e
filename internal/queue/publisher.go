package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg Message) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, queue, publishing)
}

// PublishDelayed parks msg in the delay queue; the broker moves it back to the
// work queue once delay has elapsed.
func (p *RabbitMQPublisher) PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	publishing, err := p.publishing(msg.WithoutErrorInfo())
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)

	return p.publish(ctx, DelayQueue, publishing)
}

// PublishDeadLetter sends an enriched copy of msg to the dead-letter queue and
// records how many times the original was received.
func (p *RabbitMQPublisher) PublishDeadLetter(ctx context.Context, msg Message, receiveCount int) error {
	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}
	if receiveCount < 1 {
		receiveCount = 1
	}
	publishing.Headers = amqp.Table{receiveCountHeader: int32(receiveCount)}

	return p.publish(ctx, DeadLetterQueue, publishing)
}

func (p *RabbitMQPublisher) publishing(msg Message) (amqp.Publishing, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification message: %w", err)
	}

	messageID := msg.NotificationID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		MessageId:    messageID,
		Type:         msg.Type,
		Body:         payload,
	}, nil
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, publishing amqp.Publishing) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
