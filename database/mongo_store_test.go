package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/intellicollab/chat-relay/models"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMongoMessage_ToModel(t *testing.T) {
	req := require.New(t)
	id := primitive.NewObjectID()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600))

	got := mongoMessage{
		ID: id, RoomID: "room-1", SenderID: "alice", Text: "hi",
		MediaURL: "https://cdn.example.com/a.png", CreatedAt: created,
	}.toModel()

	req.Equal(id.Hex(), got.ID)
	req.Equal("room-1", got.RoomID)
	req.Equal("https://cdn.example.com/a.png", got.MediaURL)
	req.Equal(time.UTC, got.CreatedAt.Location())
	req.True(created.Equal(got.CreatedAt))
}

// Runs against a real server when MONGO_TEST_URL is set.
func TestMongoStore_Integration(t *testing.T) {
	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skip("MONGO_TEST_URL not set")
	}
	req := require.New(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := OpenMongo(ctx, url, "chat_relay_test_"+uuid.NewString()[:8], 5*time.Second, log)
	req.NoError(err)
	t.Cleanup(func() {
		_ = store.messages.Database().Drop(context.Background())
		_ = store.Close()
	})

	first := &models.Message{RoomID: "room-1", SenderID: "alice", Text: "one"}
	second := &models.Message{RoomID: "room-1", SenderID: "bob", Text: "two"}
	req.NoError(store.SaveMessage(ctx, first))
	req.NoError(store.SaveMessage(ctx, second))
	req.NotEmpty(first.ID)
	req.False(first.CreatedAt.IsZero())

	got, err := store.GetMessage(ctx, second.ID)
	req.NoError(err)
	req.Equal("two", got.Text)

	_, err = store.GetMessage(ctx, "not-an-object-id")
	req.ErrorIs(err, ErrNotFound)

	page, err := store.ListMessages(ctx, "room-1", models.Page{})
	req.NoError(err)
	req.Equal([]string{"one", "two"}, []string{page[0].Text, page[1].Text})

	page, err = store.ListMessages(ctx, "room-1", models.Page{Before: second.ID})
	req.NoError(err)
	req.Len(page, 1)

	room := &models.Room{Name: "general", CreatedBy: "alice", OrganisationID: "org-1"}
	req.NoError(store.CreateRoom(ctx, room))
	rooms, err := store.ListRooms(ctx, "org-1")
	req.NoError(err)
	req.Len(rooms, 1)
	req.Equal(room.ID, rooms[0].ID)
}
