package queue

import (
	"context"
	"fmt"
)

const (
	// BatchQueue carries batch runs from the API and retry scanner to workers.
	BatchQueue = "notify.batch"
	// ResultQueue carries the failed set of every finished run back to the portal.
	ResultQueue = "notify.result"
)

// Publisher publishes batch and result messages.
type Publisher interface {
	PublishBatch(ctx context.Context, msg BatchMessage) error
	PublishResult(ctx context.Context, msg ResultMessage) error
	Close() error
}

// MessageHandler handles a consumed batch message.
type MessageHandler func(ctx context.Context, msg BatchMessage) error

// Consumer consumes batch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var workQueues = []string{BatchQueue, ResultQueue}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.notify.batch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return append([]string(nil), workQueues...)
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, queue := range workQueues {
		queues = append(queues, DLQName(queue))
	}
	return queues
}
