package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/intellicollab/chat-relay/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection = "messages"
	roomsCollection    = "rooms"
)

// MongoStore keeps rooms and messages as MongoDB documents. Ids are
// ObjectIDs, which sort by creation time.
type MongoStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	rooms    *mongo.Collection
}

type mongoMessage struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	RoomID          string             `bson:"room_id"`
	SenderID        string             `bson:"sender_id"`
	Text            string             `bson:"text"`
	ParentMessageID string             `bson:"parent_message_id,omitempty"`
	MediaURL        string             `bson:"media_url,omitempty"`
	MediaType       string             `bson:"media_type,omitempty"`
	CreatedAt       time.Time          `bson:"created_at"`
}

type mongoRoom struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	OrganisationID string             `bson:"organisation_id,omitempty"`
	Name           string             `bson:"name"`
	Description    string             `bson:"description,omitempty"`
	CreatedBy      string             `bson:"created_by"`
	IsPrivate      bool               `bson:"is_private"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

// OpenMongo connects, pings and ensures the indexes the queries rely on.
func OpenMongo(ctx context.Context, url, database string, timeout time.Duration, log *slog.Logger) (*MongoStore, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:   client,
		messages: db.Collection(messagesCollection),
		rooms:    db.Collection(roomsCollection),
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("MongoDB connection established", "database", database)
	return store, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	_, err = s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "organisation_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create room index: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveMessage(ctx context.Context, message *models.Message) error {
	doc := mongoMessage{
		ID:              primitive.NewObjectID(),
		RoomID:          message.RoomID,
		SenderID:        message.SenderID,
		Text:            message.Text,
		ParentMessageID: message.ParentMessageID,
		MediaURL:        message.MediaURL,
		MediaType:       message.MediaType,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	message.ID = doc.ID.Hex()
	message.CreatedAt = doc.CreatedAt
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc mongoMessage
	if err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	message := doc.toModel()
	return &message, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, roomID string, page models.Page) ([]models.Message, error) {
	page = page.Normalize()
	filter := bson.M{"room_id": roomID}
	if page.Before != "" {
		before, err := primitive.ObjectIDFromHex(page.Before)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", page.Before, err)
		}
		filter["_id"] = bson.M{"$lt": before}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(page.Limit))
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toModel())
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *MongoStore) CreateRoom(ctx context.Context, room *models.Room) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := mongoRoom{
		ID:             primitive.NewObjectID(),
		OrganisationID: room.OrganisationID,
		Name:           room.Name,
		Description:    room.Description,
		CreatedBy:      room.CreatedBy,
		IsPrivate:      room.IsPrivate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.rooms.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	*room = doc.toModel()
	return nil
}

func (s *MongoStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc mongoRoom
	if err := s.rooms.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	room := doc.toModel()
	return &room, nil
}

func (s *MongoStore) ListRooms(ctx context.Context, organisationID string) ([]models.Room, error) {
	filter := bson.M{}
	if organisationID != "" {
		filter["organisation_id"] = organisationID
	}
	cursor, err := s.rooms.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	var docs []mongoRoom
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}
	rooms := make([]models.Room, 0, len(docs))
	for _, doc := range docs {
		rooms = append(rooms, doc.toModel())
	}
	return rooms, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d mongoMessage) toModel() models.Message {
	return models.Message{
		ID:              d.ID.Hex(),
		RoomID:          d.RoomID,
		SenderID:        d.SenderID,
		Text:            d.Text,
		ParentMessageID: d.ParentMessageID,
		MediaURL:        d.MediaURL,
		MediaType:       d.MediaType,
		CreatedAt:       d.CreatedAt.UTC(),
	}
}

func (d mongoRoom) toModel() models.Room {
	return models.Room{
		ID:             d.ID.Hex(),
		OrganisationID: d.OrganisationID,
		Name:           d.Name,
		Description:    d.Description,
		CreatedBy:      d.CreatedBy,
		IsPrivate:      d.IsPrivate,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
