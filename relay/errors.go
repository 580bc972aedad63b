package relay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation     = errors.New("invalid message")
	ErrProducerClosed = errors.New("producer closed")
	ErrMalformedEvent = errors.New("malformed message event")
)

// FieldError names one rejected field of a submission.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError rejects a submission before anything is persisted or
// published.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError means the Message Store write failed; nothing was
// published.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist message: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PublishError means the message is stored under MessageID but its event
// never reached the log. It stays unbroadcast until republished.
type PublishError struct {
	MessageID string
	RoomID    string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish message %s: %v", e.MessageID, e.Err)
}
func (e *PublishError) Unwrap() error { return e.Err }

// ConsumerHandlerError is a record the consumer could not turn into a
// broadcast. It is logged and skipped.
type ConsumerHandlerError struct {
	Topic     string
	Partition int
	Offset    int64
	Err       error
}

func (e *ConsumerHandlerError) Error() string {
	return fmt.Sprintf("handle %s[%d]@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}
func (e *ConsumerHandlerError) Unwrap() error { return e.Err }
