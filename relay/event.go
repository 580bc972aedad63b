package relay

import (
	"encoding/json"
	"fmt"

	"github.com/intellicollab/chat-relay/models"
)

const (
	EventVersion       = 1
	KindMessageCreated = "message.created"
)

// MessageEvent is the only payload written to the chat topic. It carries
// the message exactly as persisted.
type MessageEvent struct {
	Version int            `json:"v"`
	Kind    string         `json:"kind"`
	Message models.Message `json:"message"`
}

// EncodeMessageEvent checks that message is a persisted message and
// serialises it.
func EncodeMessageEvent(message models.Message) ([]byte, error) {
	if err := checkPersisted(message); err != nil {
		return nil, err
	}
	return json.Marshal(MessageEvent{
		Version: EventVersion,
		Kind:    KindMessageCreated,
		Message: message,
	})
}

// DecodeMessageEvent parses a record value and applies the same checks as
// EncodeMessageEvent.
func DecodeMessageEvent(data []byte) (MessageEvent, error) {
	var event MessageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return MessageEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Version != EventVersion {
		return MessageEvent{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEvent, event.Version)
	}
	if event.Kind != KindMessageCreated {
		return MessageEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, event.Kind)
	}
	if err := checkPersisted(event.Message); err != nil {
		return MessageEvent{}, err
	}
	return event, nil
}

func checkPersisted(m models.Message) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedEvent)
	case m.RoomID == "":
		return fmt.Errorf("%w: missing room_id", ErrMalformedEvent)
	case m.SenderID == "":
		return fmt.Errorf("%w: missing sender_id", ErrMalformedEvent)
	case m.Text == "":
		return fmt.Errorf("%w: missing text", ErrMalformedEvent)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created_at", ErrMalformedEvent)
	}
	return nil
}
