package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/intellicollab/chat-relay/models"
	"gorm.io/gorm"
)

// GormStore keeps rooms and messages in a SQL database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveMessage inserts the message; the BeforeCreate hook assigns ID and
// CreatedAt, so they are readable on the argument once this returns.
func (s *GormStore) SaveMessage(ctx context.Context, message *models.Message) error {
	message.ID = ""
	message.CreatedAt = time.Time{}
	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	if err := s.db.WithContext(ctx).First(&message, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &message, nil
}

// ListMessages returns one page of a room's history in ascending id order.
func (s *GormStore) ListMessages(ctx context.Context, roomID string, page models.Page) ([]models.Message, error) {
	page = page.Normalize()
	query := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if page.Before != "" {
		query = query.Where("id < ?", page.Before)
	}

	var messages []models.Message
	if err := query.Order("id DESC").Limit(page.Limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *GormStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return &room, nil
}

// ListRooms lists the rooms of one organisation, or every room when
// organisationID is empty.
func (s *GormStore) ListRooms(ctx context.Context, organisationID string) ([]models.Room, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if organisationID != "" {
		query = query.Where("organisation_id = ?", organisationID)
	}
	var rooms []models.Room
	if err := query.Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	return rooms, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
