package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const fetchRetryDelay = time.Second

// KafkaConfig holds the broker connection settings.
type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	Partitions        int
	ReplicationFactor int
	PublishTimeout    time.Duration
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is the process-wide event log client. It owns one writer for the
// producer side and creates one reader per consumer group subscription.
type Kafka struct {
	cfg    KafkaConfig
	log    *slog.Logger
	dialer *kafka.Dialer
	writer kafkaWriter
}

func NewKafka(cfg KafkaConfig, log *slog.Logger) *Kafka {
	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchTimeout:           5 * time.Millisecond,
		WriteTimeout:           cfg.PublishTimeout,
		AllowAutoTopicCreation: false,
		Transport:              &kafka.Transport{ClientID: cfg.ClientID},
	}
	return &Kafka{cfg: cfg, log: log, dialer: dialer, writer: writer}
}

// EnsureTopic creates the topic through the cluster controller. A topic
// that already exists is not an error.
func (k *Kafka) EnsureTopic(ctx context.Context, topic string) error {
	conn, err := k.dialAny(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	controllerConn, err := k.dialer.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     k.cfg.Partitions,
		ReplicationFactor: k.cfg.ReplicationFactor,
	})
	if isTopicExists(err) {
		k.log.Debug("Kafka topic already exists", "topic", topic)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	k.log.Info("Kafka topic created", "topic", topic, "partitions", k.cfg.Partitions)
	return nil
}

func (k *Kafka) dialAny(ctx context.Context) (*kafka.Conn, error) {
	var errs []error
	for _, broker := range k.cfg.Brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	return nil, fmt.Errorf("failed to dial kafka: %w", errors.Join(errs...))
}

// Publish writes one record keyed by key. It is bounded by the configured
// publish timeout; retries belong to RetryingPublisher.
func (k *Kafka) Publish(ctx context.Context, topic, key string, value []byte) error {
	if k.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.cfg.PublishTimeout)
		defer cancel()
	}
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Subscribe joins the consumer group. An existing group resumes at its
// committed offset. A fresh group starts at the oldest retained record:
// the group joins in the background, and records published before the
// join resolves an offset must still be delivered.
func (k *Kafka) Subscribe(topic, groupID string) (Subscription, error) {
	if len(k.cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	reader := kafka.NewReader(k.readerConfig(topic, groupID))
	k.log.Info("Kafka consumer subscribed", "topic", topic, "group", groupID)
	return newKafkaSubscription(reader, k.log), nil
}

func (k *Kafka) readerConfig(topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		GroupID:        groupID,
		Topic:          topic,
		Dialer:         k.dialer,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			k.log.Error(fmt.Sprintf(msg, args...), "topic", topic, "group", groupID)
		}),
	}
}

// Close disconnects the producer side.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

type kafkaSubscription struct {
	reader     kafkaReader
	log        *slog.Logger
	retryDelay time.Duration
}

func newKafkaSubscription(reader kafkaReader, log *slog.Logger) *kafkaSubscription {
	return &kafkaSubscription{reader: reader, log: log, retryDelay: fetchRetryDelay}
}

// Consume fetches, handles, then commits each record, so a crash between
// handling and commit redelivers the record.
func (s *kafkaSubscription) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			s.log.Error("Failed to fetch kafka record", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retryDelay):
			}
			continue
		}

		record := toRecord(msg)
		if err := handler(ctx, record); err != nil {
			s.log.Warn("Record handler failed, skipping",
				"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			s.log.Error("Failed to commit kafka offset",
				"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		}
	}
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}

func toRecord(msg kafka.Message) Record {
	return Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Time:      msg.Time,
	}
}

func isTopicExists(err error) bool {
	return errors.Is(err, kafka.TopicAlreadyExists)
}
