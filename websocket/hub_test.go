package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/models"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(dedupeWindow int) *Hub {
	return NewHub(discardLogger(), metrics.NewCollector(), dedupeWindow)
}

// registered returns a connected client with no socket; frames stay in its
// send buffer.
func registered(t *testing.T, hub *Hub, identity string, buffer int) *Client {
	t.Helper()
	client := newClient(context.Background(), nil, identity, buffer, nil, discardLogger())
	require.NoError(t, hub.Register(client))
	client.state.Store(int32(StateConnected))
	return client
}

func drain(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-c.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func message(id, roomID string) models.Message {
	return models.Message{ID: id, RoomID: roomID, SenderID: "alice", Text: "hello", CreatedAt: time.Now().UTC()}
}

func TestHub_BroadcastIsRoomScoped(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)

	// Given X and Z in room-1 and Y in room-2
	x := registered(t, hub, "x", 8)
	y := registered(t, hub, "y", 8)
	z := registered(t, hub, "z", 8)
	req.NoError(hub.Join(x, "room-1"))
	req.NoError(hub.Join(z, "room-1"))
	req.NoError(hub.Join(y, "room-2"))

	// When a message for room-1 is broadcast
	delivered, duplicate := hub.BroadcastMessage(message("m-1", "room-1"))

	// Then only room-1 members receive it
	req.False(duplicate)
	req.Equal(2, delivered)
	req.Len(drain(x), 1)
	req.Len(drain(z), 1)
	req.Empty(drain(y))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)
	x := registered(t, hub, "x", 8)

	req.NoError(hub.Join(x, "room-1"))
	req.NoError(hub.Join(x, "room-1"))

	req.Equal(1, hub.RoomSize("room-1"))
	req.Equal(1, hub.Broadcast("room-1", []byte(`{}`)))
	req.Len(drain(x), 1)
	req.Equal(StateJoined, x.State())
}

func TestHub_LeaveAndUnregister(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)
	x := registered(t, hub, "x", 8)
	req.NoError(hub.Join(x, "room-1"))
	req.NoError(hub.Join(x, "room-2"))

	hub.Leave(x, "room-1")
	req.Equal(0, hub.RoomSize("room-1"))
	req.Equal(1, hub.RoomSize("room-2"))
	req.Equal(StateJoined, x.State())

	hub.Leave(x, "room-2")
	req.Equal(StateConnected, x.State())

	// Unregister removes every membership and can be repeated
	req.NoError(hub.Join(x, "room-3"))
	hub.Unregister(x)
	hub.Unregister(x)
	req.Equal(0, hub.RoomSize("room-3"))
	req.Equal(0, hub.ClientCount())
	req.Equal(0, hub.Broadcast("room-3", []byte(`{}`)))
	req.ErrorIs(hub.Join(x, "room-3"), ErrNotRegistered)
}

func TestHub_SlowClientIsDroppedWithoutStallingOthers(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)

	// Given a client with a one-frame buffer and a healthy one
	slow := registered(t, hub, "slow", 1)
	fast := registered(t, hub, "fast", 8)
	req.NoError(hub.Join(slow, "room-1"))
	req.NoError(hub.Join(fast, "room-1"))

	// When two frames are broadcast
	req.Equal(2, hub.Broadcast("room-1", []byte(`{"n":1}`)))
	req.Equal(1, hub.Broadcast("room-1", []byte(`{"n":2}`)))

	// Then the slow client is closed and the other got both
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}
	req.Equal(StateDisconnected, slow.State())
	req.Len(drain(fast), 2)

	// And nothing more is queued for it
	req.Equal(1, hub.Broadcast("room-1", []byte(`{"n":3}`)))
}

func TestClient_IdentifiesItsSession(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)

	a := registered(t, hub, "alice", 1)
	b := registered(t, hub, "alice", 1)

	req.Equal("alice", a.Identity())
	req.NotEmpty(a.ID())
	req.NotEqual(a.ID(), b.ID())
}

func TestHub_DedupeWindow(t *testing.T) {
	t.Run("should skip a redelivered message", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(2)
		x := registered(t, hub, "x", 8)
		req.NoError(hub.Join(x, "room-1"))

		_, duplicate := hub.BroadcastMessage(message("m-1", "room-1"))
		req.False(duplicate)
		delivered, duplicate := hub.BroadcastMessage(message("m-1", "room-1"))
		req.True(duplicate)
		req.Zero(delivered)
		req.Len(drain(x), 1)
	})

	t.Run("should forget ids outside the window", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(2)
		x := registered(t, hub, "x", 8)
		req.NoError(hub.Join(x, "room-1"))

		for _, id := range []string{"a", "b", "c"} {
			_, duplicate := hub.BroadcastMessage(message(id, "room-1"))
			req.False(duplicate)
		}
		_, duplicate := hub.BroadcastMessage(message("a", "room-1"))
		req.False(duplicate)
	})

	t.Run("should evict the oldest id even if it was redelivered", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(2)
		x := registered(t, hub, "x", 8)
		req.NoError(hub.Join(x, "room-1"))

		// Given a and b broadcast and a redelivered
		hub.BroadcastMessage(message("a", "room-1"))
		hub.BroadcastMessage(message("b", "room-1"))
		_, duplicate := hub.BroadcastMessage(message("a", "room-1"))
		req.True(duplicate)

		// When c pushes the window forward
		hub.BroadcastMessage(message("c", "room-1"))

		// Then a is gone and c is still remembered
		_, duplicate = hub.BroadcastMessage(message("a", "room-1"))
		req.False(duplicate)
		_, duplicate = hub.BroadcastMessage(message("c", "room-1"))
		req.True(duplicate)
	})

	t.Run("should deliver every copy when disabled", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(0)
		x := registered(t, hub, "x", 8)
		req.NoError(hub.Join(x, "room-1"))

		hub.BroadcastMessage(message("m-1", "room-1"))
		hub.BroadcastMessage(message("m-1", "room-1"))
		req.Len(drain(x), 2)
	})
}

func TestHub_BroadcastMessageFrame(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)
	x := registered(t, hub, "x", 8)
	req.NoError(hub.Join(x, "room-1"))

	hub.BroadcastMessage(message("m-1", "room-1"))

	frames := drain(x)
	req.Len(frames, 1)
	var frame Frame
	req.NoError(json.Unmarshal(frames[0], &frame))
	req.Equal(EventMessage, frame.Type)
	var got models.Message
	req.NoError(json.Unmarshal(frame.Payload, &got))
	req.Equal("m-1", got.ID)
	req.Equal("hello", got.Text)
}

func TestHub_Close(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(0)
	x := registered(t, hub, "x", 8)
	req.NoError(hub.Join(x, "room-1"))

	hub.Close()
	hub.Close()

	req.Equal(StateDisconnected, x.State())
	req.Equal(0, hub.ClientCount())
	req.Equal(0, hub.RoomSize("room-1"))
	req.ErrorIs(hub.Register(newClient(context.Background(), nil, "late", 1, nil, discardLogger())), ErrHubClosed)
}
