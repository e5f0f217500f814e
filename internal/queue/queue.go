package queue

import (
	"context"
	"time"
)

const (
	// WorkQueue carries notification requests to the dispatch pipeline.
	WorkQueue = "notifications"
	// DeadLetterQueue carries undeliverable requests to the resolution pipeline.
	DeadLetterQueue = "notifications.dlq"
	// DelayQueue parks requests until their TTL expires, then dead-letters them back into WorkQueue.
	DelayQueue = "notifications.delay"
)

// Publisher publishes notification messages.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error
	PublishDeadLetter(ctx context.Context, msg Message, receiveCount int) error
	Close() error
}

// BatchHandler handles one batch of deliveries and returns one disposition per record.
// A missing disposition is treated as Requeue.
type BatchHandler func(ctx context.Context, records []Record) []Disposition

// Consumer consumes batches of deliveries from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler BatchHandler) error
	Close() error
}

// QueueNames returns every queue declared by the topology.
func QueueNames() []string {
	return []string{WorkQueue, DeadLetterQueue, DelayQueue}
}
