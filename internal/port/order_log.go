package port

import (
	"context"
	"time"
)

// LogEntry is one durable log record with its store-assigned id.
type LogEntry struct {
	ID     string
	Values map[string]string
}

// OrderLog is the durable, ordered, consumer-group log carrying accepted
// admissions. Entries stay pending (redeliverable) until acknowledged.
type OrderLog interface {
	// EnsureGroup creates the consumer group if it does not exist yet.
	EnsureGroup(ctx context.Context, group string) error

	// ReadNew blocks up to block waiting for entries not yet delivered to the
	// group. Returned entries become pending for this consumer until acked.
	ReadNew(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]LogEntry, error)

	// ReadPending returns entries already delivered to this consumer but never
	// acknowledged, oldest first.
	ReadPending(ctx context.Context, group, consumer string, count int64) ([]LogEntry, error)

	Ack(ctx context.Context, group string, ids ...string) error
}
