//go:generate go run go.uber.org/mock/mockgen -source=producer.go -destination=../mocks/mock_relay.go -package=mocks
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/models"
)

const DefaultMaxTextLength = 4000

// MessageStore is the write side of the Message Store the producer needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Publisher appends an encoded event to the log.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Submission is a message as a client sends it, before the store assigns
// an id and timestamp.
type Submission struct {
	RoomID          string `json:"room_id" validate:"required,notblank,max=64"`
	SenderID        string `json:"sender_id" validate:"required,notblank,max=128"`
	Text            string `json:"text" validate:"required,notblank"`
	ParentMessageID string `json:"parent_message_id" validate:"omitempty,max=64"`
	MediaURL        string `json:"media_url" validate:"omitempty,url,max=2048"`
	MediaType       string `json:"media_type" validate:"omitempty,max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Producer persists submissions and publishes them to the chat topic keyed
// by room, so that one room's messages stay ordered in the log.
type Producer struct {
	store         MessageStore
	publisher     Publisher
	topic         string
	maxTextLength int
	log           *slog.Logger
	metrics       *metrics.Collector

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	stopped  context.Context
	stop     context.CancelFunc
}

func NewProducer(store MessageStore, publisher Publisher, topic string, maxTextLength int,
	log *slog.Logger, m *metrics.Collector) *Producer {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	stopped, stop := context.WithCancel(context.Background())
	return &Producer{
		stopped:       stopped,
		stop:          stop,
		store:         store,
		publisher:     publisher,
		topic:         topic,
		maxTextLength: maxTextLength,
		log:           log,
		metrics:       m,
	}
}

// Submit validates, persists, then publishes. A *PublishError comes back
// together with the stored message: it exists durably but has not been
// broadcast.
func (p *Producer) Submit(ctx context.Context, submission Submission) (*models.Message, error) {
	if err := p.Validate(submission); err != nil {
		p.metrics.Submitted(metrics.OutcomeInvalid)
		return nil, err
	}

	if !p.enter() {
		p.metrics.Submitted(metrics.OutcomeRejected)
		return nil, ErrProducerClosed
	}
	defer p.inflight.Done()

	message := &models.Message{
		RoomID:          submission.RoomID,
		SenderID:        submission.SenderID,
		Text:            submission.Text,
		ParentMessageID: submission.ParentMessageID,
		MediaURL:        submission.MediaURL,
		MediaType:       submission.MediaType,
	}
	if err := p.store.SaveMessage(ctx, message); err != nil {
		p.log.Error("Failed to persist message", "room_id", submission.RoomID, "sender_id", submission.SenderID, "error", err)
		p.metrics.Submitted(metrics.OutcomePersistFailed)
		return nil, &PersistenceError{Err: err}
	}

	// The message is durable now; a caller going away must not abort the
	// publish and leave it unbroadcast. Only Close does.
	publishCtx, cancel := p.untilClosed(context.WithoutCancel(ctx))
	defer cancel()
	if err := p.publish(publishCtx, *message); err != nil {
		p.log.Error("Message persisted but not published, it will not be broadcast until republished",
			"message_id", message.ID, "room_id", message.RoomID, "error", err)
		p.metrics.Submitted(metrics.OutcomePublishFailed)
		return message, &PublishError{MessageID: message.ID, RoomID: message.RoomID, Err: err}
	}

	p.log.Debug("Message accepted", "message_id", message.ID, "room_id", message.RoomID)
	p.metrics.Submitted(metrics.OutcomeAccepted)
	return message, nil
}

// Republish publishes an already stored message again. It never writes to
// the store.
func (p *Producer) Republish(ctx context.Context, messageID string) (*models.Message, error) {
	if !p.enter() {
		return nil, ErrProducerClosed
	}
	defer p.inflight.Done()

	message, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	publishCtx, cancel := p.untilClosed(ctx)
	defer cancel()
	if err := p.publish(publishCtx, *message); err != nil {
		p.log.Error("Republish failed", "message_id", message.ID, "room_id", message.RoomID, "error", err)
		return message, &PublishError{MessageID: message.ID, RoomID: message.RoomID, Err: err}
	}
	p.log.Info("Message republished", "message_id", message.ID, "room_id", message.RoomID)
	p.metrics.Republished()
	return message, nil
}

// Validate reports every rejected field of submission.
func (p *Producer) Validate(submission Submission) error {
	var fields []FieldError
	if err := validate.Struct(submission); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return &ValidationError{Fields: []FieldError{{Field: "submission", Reason: err.Error()}}}
		}
		for _, fe := range validationErrors {
			fields = append(fields, FieldError{Field: fe.Field(), Reason: reason(fe)})
		}
	}
	if err := validate.Var(submission.Text, fmt.Sprintf("max=%d", p.maxTextLength)); err != nil {
		fields = append(fields, FieldError{Field: "text", Reason: fmt.Sprintf("must be at most %d characters", p.maxTextLength)})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Close stops accepting submissions and cancels the publish retries of
// those in flight, which then fail with a *PublishError. It waits for them
// to return until ctx is done, so that none publishes after the log
// producer is disconnected.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stop()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight submissions: %w", ctx.Err())
	}
}

// enter registers an in-flight call unless the producer is closed.
func (p *Producer) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// untilClosed derives a context that is also cancelled by Close.
func (p *Producer) untilClosed(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	unregister := context.AfterFunc(p.stopped, cancel)
	return ctx, func() {
		unregister()
		cancel()
	}
}

func (p *Producer) publish(ctx context.Context, message models.Message) error {
	payload, err := EncodeMessageEvent(message)
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, p.topic, message.RoomID, payload)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag()
	}
}
