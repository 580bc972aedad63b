//go:generate go run go.uber.org/mock/mockgen -source=message_controller.go -destination=../mocks/mock_controllers.go -package=mocks
package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/intellicollab/chat-relay/database"
	"github.com/intellicollab/chat-relay/middleware"
	"github.com/intellicollab/chat-relay/models"
	"github.com/intellicollab/chat-relay/relay"
)

// MessageProducer is the relay producer as the HTTP fallback sees it.
type MessageProducer interface {
	Submit(ctx context.Context, submission relay.Submission) (*models.Message, error)
	Republish(ctx context.Context, messageID string) (*models.Message, error)
}

// MessageReader queries a room's history.
type MessageReader interface {
	ListMessages(ctx context.Context, roomID string, page models.Page) ([]models.Message, error)
}

type CreateMessageInput struct {
	RoomID          string `json:"room_id" example:"room-1"`
	Text            string `json:"text" example:"Hello, everyone!"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	MediaURL        string `json:"media_url,omitempty" example:"https://cdn.example.com/cat.png"`
	MediaType       string `json:"media_type,omitempty" example:"image/png"`
}

type MessageController struct {
	producer MessageProducer
	reader   MessageReader
	log      *slog.Logger
}

func NewMessageController(producer MessageProducer, reader MessageReader, log *slog.Logger) *MessageController {
	return &MessageController{producer: producer, reader: reader, log: log}
}

// GetMessages godoc
// @Summary Get a page of a room's messages
// @Description Returns up to limit messages older than before, oldest first
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param room_id query string true "Room ID"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param before query string false "Only messages older than this message ID"
// @Success 200 {object} map[string]interface{} "List of messages"
// @Failure 400 {object} map[string]string "Invalid room ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/messages [get]
func (mc *MessageController) GetMessages(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}
	var page models.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := mc.reader.ListMessages(c.Request.Context(), roomID, page.Normalize())
	if err != nil {
		mc.log.Error("Failed to list messages", "room_id", roomID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// CreateMessage godoc
// @Summary Send a message
// @Description Persists the message and publishes it for delivery to the room's live connections
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param message body CreateMessageInput true "Message"
// @Success 201 {object} models.Message "Message stored and published"
// @Success 202 {object} map[string]interface{} "Message stored, delivery pending"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Failure 503 {object} map[string]string "Shutting down"
// @Router /api/messages [post]
func (mc *MessageController) CreateMessage(c *gin.Context) {
	var input CreateMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := mc.producer.Submit(c.Request.Context(), relay.Submission{
		RoomID:          input.RoomID,
		SenderID:        c.GetString(middleware.IdentityKey),
		Text:            input.Text,
		ParentMessageID: input.ParentMessageID,
		MediaURL:        input.MediaURL,
		MediaType:       input.MediaType,
	})
	if err == nil {
		c.JSON(http.StatusCreated, message)
		return
	}

	var (
		validationErr *relay.ValidationError
		publishErr    *relay.PublishError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &publishErr):
		c.JSON(http.StatusAccepted, gin.H{"message": message, "error": "Message stored, delivery pending"})
	case errors.Is(err, relay.ErrProducerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
	}
}

// RepublishMessage godoc
// @Summary Republish a stored message
// @Description Publishes an already stored message again, for messages whose delivery failed
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} models.Message "Message republished"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Message not found"
// @Failure 502 {object} map[string]string "Event log unavailable"
// @Router /api/messages/{id}/republish [post]
func (mc *MessageController) RepublishMessage(c *gin.Context) {
	message, err := mc.producer.Republish(c.Request.Context(), c.Param("id"))
	var publishErr *relay.PublishError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, message)
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case errors.As(err, &publishErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Event log unavailable, try again later"})
	case errors.Is(err, relay.ErrProducerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
	default:
		mc.log.Error("Republish failed", "message_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to republish message"})
	}
}
