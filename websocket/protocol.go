package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event types.
const (
	EventJoinRoom   = "joinRoom"
	EventLeaveRoom  = "leaveRoom"
	EventNewMessage = "newMessage"
)

// Outbound event types.
const (
	EventMessage          = "message"
	EventMessageConfirmed = "messageConfirmed"
	EventMessageError     = "messageError"
	EventRoomJoined       = "roomJoined"
	EventRoomLeft         = "roomLeft"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Frame is the envelope of every websocket frame in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundEvent is one of JoinRoom, LeaveRoom or NewMessage.
type InboundEvent interface {
	inboundEvent()
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

type NewMessage struct {
	RoomID          string `json:"room_id"`
	SenderID        string `json:"sender_id,omitempty"`
	Text            string `json:"text"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	MediaURL        string `json:"media_url,omitempty"`
	MediaType       string `json:"media_type,omitempty"`
}

func (JoinRoom) inboundEvent()   {}
func (LeaveRoom) inboundEvent()  {}
func (NewMessage) inboundEvent() {}

type MessageConfirmed struct {
	MessageID string `json:"message_id"`
}

type MessageError struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

type RoomEvent struct {
	RoomID string `json:"room_id"`
}

// DecodeInbound parses a client frame into its typed event.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch frame.Type {
	case EventJoinRoom:
		var e JoinRoom
		if err := decodePayload(frame, &e); err != nil {
			return nil, err
		}
		if e.RoomID == "" {
			return nil, fmt.Errorf("%w: room_id is required", ErrInvalidPayload)
		}
		return e, nil
	case EventLeaveRoom:
		var e LeaveRoom
		if err := decodePayload(frame, &e); err != nil {
			return nil, err
		}
		if e.RoomID == "" {
			return nil, fmt.Errorf("%w: room_id is required", ErrInvalidPayload)
		}
		return e, nil
	case EventNewMessage:
		var e NewMessage
		if err := decodePayload(frame, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Type)
	}
}

func decodePayload(frame Frame, v any) error {
	if len(frame.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, frame.Type)
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EncodeFrame builds an outbound frame.
func EncodeFrame(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: eventType, Payload: raw})
}
