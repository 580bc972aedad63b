// Package eventlog is the durable, ordered publish/subscribe log that
// decouples message ingestion from fan-out. Kafka backs it in production;
// Memory backs single-node development and tests.
package eventlog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnavailable  = errors.New("event log unavailable")
	ErrUnknownTopic = errors.New("unknown topic")
	ErrClosed       = errors.New("event log closed")
)

// Record is one event read from a topic partition.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Time      time.Time
}

// Handler processes one record. Returned errors are logged by the consume
// loop and the record is committed anyway; a handler that wants the record
// redelivered must not return (crash) before the commit.
type Handler func(ctx context.Context, record Record) error

// Publisher appends a record to a topic. Records sharing a key keep their
// relative order.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Subscription is one consumer group member. Consume blocks until ctx is
// cancelled or the subscription is closed.
type Subscription interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}
