package persistence

import "errors"

// ErrQueueNotFound is returned when a message operation targets a queue with
// no saved metadata.
var ErrQueueNotFound = errors.New("queue not found")

// Persistence is the durable log the queue core writes through.
// Messages are keyed by (vhost, queue, seq); seq is the queue's enqueue sequence.
type Persistence interface {
	/* Queue operations */

	// SaveQueueMetadata creates or updates a queue's properties, keeping its messages.
	SaveQueueMetadata(vhost, name string, props QueueProperties) error
	// DeleteQueueMetadata removes a queue together with its messages and stats.
	DeleteQueueMetadata(vhost, name string) error
	// SaveQueueStats records the queue's cumulative counters.
	SaveQueueStats(vhost, name string, stats QueueStats) error

	/* Message operations */

	// SaveMessage durably appends a message. It must not return before the
	// write is recorded.
	SaveMessage(vhost, queue string, msg Message) error
	// DeleteMessage removes a message; deleting an unknown seq is not an error.
	DeleteMessage(vhost, queue string, seq uint64) error

	// LoadAllQueues returns every queue of the vhost with its non-deleted
	// messages in seq order.
	LoadAllQueues(vhost string) ([]QueueSnapshot, error)

	// Lifecycle
	Initialize() error
	Close() error
}

// Config for persistence implementations
type Config struct {
	Type    string            `json:"type"`     // "json", "sqlite", "redis", "memory", "none"
	DataDir string            `json:"data_dir"` // Base directory for file backed storage
	Options map[string]string `json:"options"`  // Implementation-specific options
}
