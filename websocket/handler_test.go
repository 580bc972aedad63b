package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/middleware"
	"github.com/intellicollab/chat-relay/models"
	"github.com/intellicollab/chat-relay/relay"
	"github.com/stretchr/testify/require"
)

// stubSubmitter stores nothing; it answers with a fixed id or error.
type stubSubmitter struct {
	mu          sync.Mutex
	submissions []relay.Submission
	err         error
}

func (s *stubSubmitter) Submit(_ context.Context, submission relay.Submission) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, submission)
	var publishErr *relay.PublishError
	if errors.As(s.err, &publishErr) {
		return &models.Message{ID: publishErr.MessageID}, s.err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.Message{ID: "m-1", RoomID: submission.RoomID, SenderID: submission.SenderID, Text: submission.Text}, nil
}

func (s *stubSubmitter) last() relay.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions[len(s.submissions)-1]
}

type gatewayFixture struct {
	hub       *Hub
	gateway   *Gateway
	submitter *stubSubmitter
	server    *httptest.Server
}

func newGatewayFixture(t *testing.T, cfg GatewayConfig) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := newTestHub(0)
	submitter := &stubSubmitter{}
	gateway := NewGateway(context.Background(), hub, submitter, cfg, discardLogger(), metrics.NewCollector())

	router := gin.New()
	router.GET("/ws", middleware.Auth(middleware.HeaderVerifier{}, discardLogger()), gateway.HandleConnection)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		gateway.Wait()
		server.Close()
	})
	return &gatewayFixture{hub: hub, gateway: gateway, submitter: submitter, server: server}
}

func (f *gatewayFixture) dial(t *testing.T, identity string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(middleware.UserIDHeader, identity)
	conn, _, err := gorilla.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gorilla.Conn, eventType string, payload any) {
	t.Helper()
	data, err := EncodeFrame(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, data))
}

func receive(t *testing.T, conn *gorilla.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func payload[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Payload, &v))
	return v
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{})

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)

	req.ErrorIs(err, gorilla.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	req.Equal(0, f.hub.ClientCount())
}

func TestGateway_JoinAndSend(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{})
	conn := f.dial(t, "alice")

	// Given alice joined room-1
	send(t, conn, EventJoinRoom, JoinRoom{RoomID: "room-1"})
	frame := receive(t, conn)
	req.Equal(EventRoomJoined, frame.Type)
	req.Equal("room-1", payload[RoomEvent](t, frame).RoomID)
	req.Equal(1, f.hub.RoomSize("room-1"))

	// When she sends a message without a sender id
	send(t, conn, EventNewMessage, NewMessage{RoomID: "room-1", Text: "hello"})

	// Then it is submitted as her and acknowledged with the stored id
	frame = receive(t, conn)
	req.Equal(EventMessageConfirmed, frame.Type)
	req.Equal("m-1", payload[MessageConfirmed](t, frame).MessageID)
	req.Equal(relay.Submission{RoomID: "room-1", SenderID: "alice", Text: "hello"}, f.submitter.last())

	// And a broadcast to the room reaches her socket
	f.hub.BroadcastMessage(models.Message{ID: "m-1", RoomID: "room-1", SenderID: "alice", Text: "hello", CreatedAt: time.Now()})
	frame = receive(t, conn)
	req.Equal(EventMessage, frame.Type)
	req.Equal("hello", payload[models.Message](t, frame).Text)

	// And leaving stops further broadcasts
	send(t, conn, EventLeaveRoom, LeaveRoom{RoomID: "room-1"})
	req.Equal(EventRoomLeft, receive(t, conn).Type)
	req.Equal(0, f.hub.RoomSize("room-1"))
}

func TestGateway_MessageErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		frame         NewMessage
		wantMessage   string
		wantMessageID string
	}{
		{
			name:        "sender impersonation",
			frame:       NewMessage{RoomID: "room-1", SenderID: "mallory", Text: "hi"},
			wantMessage: "sender_id does not match",
		},
		{
			name:        "validation",
			err:         &relay.ValidationError{Fields: []relay.FieldError{{Field: "room_id", Reason: "is required"}}},
			frame:       NewMessage{Text: "hi"},
			wantMessage: "room_id is required",
		},
		{
			name:        "persistence",
			err:         &relay.PersistenceError{Err: errors.New("db down")},
			frame:       NewMessage{RoomID: "room-1", Text: "hi"},
			wantMessage: "could not be saved",
		},
		{
			name:          "publish",
			err:           &relay.PublishError{MessageID: "m-7", RoomID: "room-1", Err: errors.New("log down")},
			frame:         NewMessage{RoomID: "room-1", Text: "hi"},
			wantMessage:   "stored but not delivered",
			wantMessageID: "m-7",
		},
		{
			name:        "shutting down",
			err:         relay.ErrProducerClosed,
			frame:       NewMessage{RoomID: "room-1", Text: "hi"},
			wantMessage: "shutting down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newGatewayFixture(t, GatewayConfig{})
			f.submitter.err = tt.err
			conn := f.dial(t, "alice")

			send(t, conn, EventNewMessage, tt.frame)

			frame := receive(t, conn)
			req.Equal(EventMessageError, frame.Type)
			got := payload[MessageError](t, frame)
			req.Contains(got.Message, tt.wantMessage)
			req.Equal(tt.wantMessageID, got.MessageID)
		})
	}
}

func TestGateway_BadFrameKeepsSessionOpen(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{})
	conn := f.dial(t, "alice")

	req.NoError(conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"typing","payload":{}}`)))
	req.Equal(EventMessageError, receive(t, conn).Type)

	send(t, conn, EventJoinRoom, JoinRoom{RoomID: "room-1"})
	req.Equal(EventRoomJoined, receive(t, conn).Type)
}

func TestGateway_RateLimit(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{RateLimit: 0.001, RateBurst: 1})
	conn := f.dial(t, "alice")

	send(t, conn, EventNewMessage, NewMessage{RoomID: "room-1", Text: "one"})
	req.Equal(EventMessageConfirmed, receive(t, conn).Type)

	send(t, conn, EventNewMessage, NewMessage{RoomID: "room-1", Text: "two"})
	frame := receive(t, conn)
	req.Equal(EventMessageError, frame.Type)
	req.Contains(payload[MessageError](t, frame).Message, "Rate limit")
}

func TestGateway_RateLimitWithoutBurstAdmitsFirstMessage(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{RateLimit: 0.001, RateBurst: 0})
	conn := f.dial(t, "alice")

	send(t, conn, EventNewMessage, NewMessage{RoomID: "room-1", Text: "one"})
	req.Equal(EventMessageConfirmed, receive(t, conn).Type)
}

func TestGateway_DisconnectCleansUp(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{})
	conn := f.dial(t, "alice")

	send(t, conn, EventJoinRoom, JoinRoom{RoomID: "room-1"})
	req.Equal(EventRoomJoined, receive(t, conn).Type)
	req.Equal(1, f.hub.ClientCount())

	// When the client goes away
	req.NoError(conn.Close())

	// Then its memberships are removed
	req.Eventually(func() bool {
		return f.hub.ClientCount() == 0 && f.hub.RoomSize("room-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_HubCloseDisconnectsClients(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t, GatewayConfig{})
	conn := f.dial(t, "alice")
	send(t, conn, EventJoinRoom, JoinRoom{RoomID: "room-1"})
	req.Equal(EventRoomJoined, receive(t, conn).Type)

	f.hub.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	req.True(gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "got %v", err)
	f.gateway.Wait()
}
