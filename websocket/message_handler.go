package websocket

import (
	"errors"

	"github.com/intellicollab/chat-relay/relay"
)

// dispatch runs one inbound event for client. It is only called from the
// client's read pump, so a session's events are handled in order.
func (g *Gateway) dispatch(client *Client, event InboundEvent) {
	switch e := event.(type) {
	case JoinRoom:
		if err := g.hub.Join(client, e.RoomID); err != nil {
			client.sendError("Could not join room", "")
			return
		}
		client.log.Debug("Joined room", "room_id", e.RoomID)
		client.sendFrame(EventRoomJoined, RoomEvent{RoomID: e.RoomID})
	case LeaveRoom:
		g.hub.Leave(client, e.RoomID)
		client.log.Debug("Left room", "room_id", e.RoomID)
		client.sendFrame(EventRoomLeft, RoomEvent{RoomID: e.RoomID})
	case NewMessage:
		g.handleNewMessage(client, e)
	default:
		g.log.Error("Unhandled inbound event", "conn_id", client.ID(), "event", e)
	}
}

// handleNewMessage submits a message on behalf of the connection's
// identity. The sender sees its own message through the room broadcast
// like everybody else; here it only gets the ack or the error.
func (g *Gateway) handleNewMessage(client *Client, e NewMessage) {
	if e.SenderID != "" && e.SenderID != client.Identity() {
		client.sendError("sender_id does not match the authenticated user", "")
		return
	}
	if !client.limiter.Allow() {
		client.sendError("Rate limit exceeded, slow down", "")
		return
	}

	message, err := g.submitter.Submit(client.ctx, relay.Submission{
		RoomID:          e.RoomID,
		SenderID:        client.Identity(),
		Text:            e.Text,
		ParentMessageID: e.ParentMessageID,
		MediaURL:        e.MediaURL,
		MediaType:       e.MediaType,
	})
	if err == nil {
		client.sendFrame(EventMessageConfirmed, MessageConfirmed{MessageID: message.ID})
		return
	}

	var (
		validationErr *relay.ValidationError
		publishErr    *relay.PublishError
		persistErr    *relay.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		client.sendError(validationErr.Error(), "")
	case errors.As(err, &publishErr):
		client.sendError("Message stored but not delivered", publishErr.MessageID)
	case errors.As(err, &persistErr):
		client.sendError("Message could not be saved", "")
	case errors.Is(err, relay.ErrProducerClosed):
		client.sendError("Server is shutting down", "")
	default:
		g.log.Error("Submit failed", "conn_id", client.ID(), "identity", client.Identity(), "room_id", e.RoomID, "error", err)
		client.sendError("Message could not be sent", "")
	}
}
