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
)

// RoomStore is the slice of the store the room endpoints use.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context, organisationID string) ([]models.Room, error)
}

type CreateRoomInput struct {
	Name           string `json:"name" binding:"required,max=255" example:"General Chat"`
	OrganisationID string `json:"organisation_id" binding:"max=64" example:"org-1"`
	Description    string `json:"description" example:"Company-wide announcements"`
	IsPrivate      bool   `json:"is_private"`
}

type RoomController struct {
	store RoomStore
	log   *slog.Logger
}

func NewRoomController(store RoomStore, log *slog.Logger) *RoomController {
	return &RoomController{store: store, log: log}
}

// GetRooms godoc
// @Summary List rooms
// @Description Returns the rooms of an organisation, or every room when no organisation is given
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param organisation_id query string false "Organisation ID"
// @Success 200 {object} map[string]interface{} "List of rooms"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms [get]
func (rc *RoomController) GetRooms(c *gin.Context) {
	rooms, err := rc.store.ListRooms(c.Request.Context(), c.Query("organisation_id"))
	if err != nil {
		rc.log.Error("Failed to list rooms", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom godoc
// @Summary Create a new chat room
// @Description Creates a room owned by the authenticated user
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param room body CreateRoomInput true "Room information"
// @Success 201 {object} models.Room "Created room"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms [post]
func (rc *RoomController) CreateRoom(c *gin.Context) {
	var input CreateRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := models.Room{
		OrganisationID: input.OrganisationID,
		Name:           input.Name,
		Description:    input.Description,
		CreatedBy:      c.GetString(middleware.IdentityKey),
		IsPrivate:      input.IsPrivate,
	}
	if err := rc.store.CreateRoom(c.Request.Context(), &room); err != nil {
		rc.log.Error("Failed to create room", "name", input.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, room)
}

// GetRoom godoc
// @Summary Get a room by ID
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} models.Room "Room details"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Room not found"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id} [get]
func (rc *RoomController) GetRoom(c *gin.Context) {
	room, err := rc.store.GetRoom(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		rc.log.Error("Failed to fetch room", "room_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch room"})
		return
	}
	c.JSON(http.StatusOK, room)
}
