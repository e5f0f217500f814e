package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName      = "mail.dlx"
	deadLetterRoutingKey = "notifications"
	reconnectBackoff     = time.Second
	maxBackoff           = 30 * time.Second

	receiveCountHeader  = "x-receive-count"
	deliveryCountHeader = "x-delivery-count"
	deathHeader         = "x-death"
)

// RabbitMQ manages RabbitMQ connectivity and topology declaration.
type RabbitMQ struct {
	url           string
	deliveryLimit int

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

// NewRabbitMQ connects to the broker. deliveryLimit bounds how often the work
// queue redelivers a message before dead-lettering it.
func NewRabbitMQ(url string, deliveryLimit int) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if deliveryLimit < 1 {
		deliveryLimit = 1
	}

	r := &RabbitMQ{url: url, deliveryLimit: deliveryLimit}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Ping reports whether the broker connection is open.
func (r *RabbitMQ) Ping() error {
	if r == nil {
		return fmt.Errorf("rabbitmq is not initialized")
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareTopology(ch, r.deliveryLimit); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// declareTopology declares the work queue (quorum, bounded redelivery), the
// dead-letter queue fed through the DLX, and the delay queue whose expired
// messages flow back into the work queue.
func declareTopology(ch *amqp.Channel, deliveryLimit int) error {
	if err := ch.ExchangeDeclare(
		dlxExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, deadLetterRoutingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", DeadLetterQueue, err)
	}

	if _, err := ch.QueueDeclare(WorkQueue, true, false, false, false, workQueueArgs(deliveryLimit)); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", WorkQueue, err)
	}

	if _, err := ch.QueueDeclare(DelayQueue, true, false, false, false, delayQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare delay queue %q: %w", DelayQueue, err)
	}

	return nil
}

func workQueueArgs(deliveryLimit int) amqp.Table {
	return amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(deliveryLimit),
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
}

func delayQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": WorkQueue,
	}
}

// ReceiveCount derives how many times a delivery has been received from its
// headers: an explicit x-receive-count, else the quorum x-delivery-count plus
// the current delivery, else the x-death count. It never returns less than 1.
func ReceiveCount(headers amqp.Table) int {
	if n, ok := tableInt(headers, receiveCountHeader); ok && n > 0 {
		return n
	}
	if n, ok := tableInt(headers, deliveryCountHeader); ok && n >= 0 {
		return n + 1
	}
	if deaths, ok := headers[deathHeader].([]any); ok {
		total := 0
		for _, entry := range deaths {
			death, ok := entry.(amqp.Table)
			if !ok {
				continue
			}
			if n, ok := tableInt(death, "count"); ok {
				total += n
			}
		}
		if total > 0 {
			return total
		}
	}
	return 1
}

func tableInt(table amqp.Table, key string) (int, bool) {
	if table == nil {
		return 0, false
	}
	switch v := table[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	default:
		return 0, false
	}
}
