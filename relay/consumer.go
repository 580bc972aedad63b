package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intellicollab/chat-relay/eventlog"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/models"
)

// Broadcaster delivers a persisted message to the connections joined to
// its room.
type Broadcaster interface {
	BroadcastMessage(message models.Message) (delivered int, duplicate bool)
}

// Consumer turns chat topic records into room broadcasts. Delivery is
// at-least-once: a record handled but not committed before a crash is
// handled again after restart.
type Consumer struct {
	subscription eventlog.Subscription
	broadcaster  Broadcaster
	log          *slog.Logger
	metrics      *metrics.Collector
}

func NewConsumer(subscription eventlog.Subscription, broadcaster Broadcaster,
	log *slog.Logger, m *metrics.Collector) *Consumer {
	return &Consumer{
		subscription: subscription,
		broadcaster:  broadcaster,
		log:          log,
		metrics:      m,
	}
}

// Run consumes until ctx is cancelled or the subscription is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Relay consumer started")
	err := c.subscription.Consume(ctx, c.Handle)
	c.log.Info("Relay consumer stopped")
	return err
}

// Handle broadcasts one record. Bad records and panics are logged and
// swallowed so one event never stops the loop.
func (c *Consumer) Handle(ctx context.Context, record eventlog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = c.skip(record, fmt.Errorf("handler panic: %v", r))
		}
	}()

	event, err := DecodeMessageEvent(record.Value)
	if err != nil {
		return c.skip(record, err)
	}
	message := event.Message
	if record.Key != "" && record.Key != message.RoomID {
		c.log.Warn("Record key does not match message room",
			"key", record.Key, "room_id", message.RoomID, "offset", record.Offset)
	}

	delivered, duplicate := c.broadcaster.BroadcastMessage(message)
	if duplicate {
		c.log.Debug("Skipped redelivered message", "message_id", message.ID, "room_id", message.RoomID)
		return nil
	}
	c.log.Debug("Message broadcast", "message_id", message.ID, "room_id", message.RoomID, "delivered", delivered)
	return nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.subscription.Close()
}

func (c *Consumer) skip(record eventlog.Record, err error) error {
	handlerErr := &ConsumerHandlerError{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Err:       err,
	}
	c.log.Error("Skipping record", "error", handlerErr)
	c.metrics.ConsumerError()
	return nil
}
