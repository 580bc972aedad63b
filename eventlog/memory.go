package eventlog

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process event log with one partition per topic and a
// committed offset per consumer group. A group is expected to have one
// active subscription at a time. Records a subscription handled but did
// not commit are redelivered to the next subscription of the group.
type Memory struct {
	logger    *slog.Logger
	mu        sync.Mutex
	topics    map[string][]Record
	offsets   map[string]int64
	available bool
	closed    bool
	wake      chan struct{}
}

func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		logger:    logger,
		topics:    make(map[string][]Record),
		offsets:   make(map[string]int64),
		available: true,
		wake:      make(chan struct{}),
	}
}

// EnsureTopic is idempotent.
func (m *Memory) EnsureTopic(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.topics[topic]; !ok {
		m.topics[topic] = nil
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case !m.available:
		return ErrUnavailable
	}
	records, ok := m.topics[topic]
	if !ok {
		return ErrUnknownTopic
	}
	m.topics[topic] = append(records, Record{
		Topic:  topic,
		Offset: int64(len(records)),
		Key:    key,
		Value:  bytes.Clone(value),
		Time:   time.Now().UTC(),
	})
	m.notifyLocked()
	return nil
}

// SetAvailable simulates the log becoming unreachable (false) or
// reachable again (true).
func (m *Memory) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// Records returns a copy of everything published to topic.
func (m *Memory) Records(topic string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.topics[topic]...)
}

// Committed returns the next offset the group will read from topic.
func (m *Memory) Committed(topic, groupID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[groupKey(topic, groupID)]
}

func (m *Memory) Subscribe(topic, groupID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.topics[topic]; !ok {
		return nil, ErrUnknownTopic
	}
	return &memorySubscription{
		log:   m,
		topic: topic,
		group: groupID,
		done:  make(chan struct{}),
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.notifyLocked()
	}
	return nil
}

func (m *Memory) notifyLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func groupKey(topic, groupID string) string {
	return topic + "/" + groupID
}

type memorySubscription struct {
	log       *Memory
	topic     string
	group     string
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Consume(ctx context.Context, handler Handler) error {
	for {
		record, wake, ok, closed := s.next()
		if closed {
			return nil
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.done:
				return nil
			case <-wake:
			}
			continue
		}

		if err := handler(ctx, record); err != nil {
			s.log.logger.Warn("Record handler failed, skipping",
				"topic", record.Topic, "group", s.group, "offset", record.Offset, "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.commit(record.Offset + 1)
	}
}

func (s *memorySubscription) next() (Record, <-chan struct{}, bool, bool) {
	select {
	case <-s.done:
		return Record{}, nil, false, true
	default:
	}

	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if s.log.closed {
		return Record{}, nil, false, true
	}
	offset := s.log.offsets[groupKey(s.topic, s.group)]
	records := s.log.topics[s.topic]
	if offset < int64(len(records)) {
		return records[offset], nil, true, false
	}
	return Record{}, s.log.wake, false, false
}

func (s *memorySubscription) commit(next int64) {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	key := groupKey(s.topic, s.group)
	if next > s.log.offsets[key] {
		s.log.offsets[key] = next
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
