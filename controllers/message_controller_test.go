package controllers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/intellicollab/chat-relay/controllers"
	"github.com/intellicollab/chat-relay/database"
	"github.com/intellicollab/chat-relay/middleware"
	"github.com/intellicollab/chat-relay/mocks"
	"github.com/intellicollab/chat-relay/models"
	"github.com/intellicollab/chat-relay/relay"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asUser stands in for the auth middleware.
func asUser(identity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.IdentityKey, identity)
		c.Next()
	}
}

func messageRouter(t *testing.T) (*gin.Engine, *mocks.MockMessageProducer, *mocks.MockMessageReader) {
	gin.SetMode(gin.TestMode)
	ctrl := gomock.NewController(t)
	producer := mocks.NewMockMessageProducer(ctrl)
	reader := mocks.NewMockMessageReader(ctrl)
	mc := controllers.NewMessageController(producer, reader, quietLogger())

	router := gin.New()
	api := router.Group("/api", asUser("alice"))
	api.GET("/messages", mc.GetMessages)
	api.POST("/messages", mc.CreateMessage)
	api.POST("/messages/:id/republish", mc.RepublishMessage)
	return router, producer, reader
}

func postJSON(router http.Handler, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, r)
	return w
}

func TestMessageController_CreateMessage(t *testing.T) {
	stored := &models.Message{ID: "m-1", RoomID: "room-1", SenderID: "alice", Text: "hello", CreatedAt: time.Now().UTC()}

	t.Run("should submit as the authenticated user and answer 201", func(t *testing.T) {
		req := require.New(t)
		router, producer, _ := messageRouter(t)

		producer.EXPECT().
			Submit(gomock.Any(), relay.Submission{RoomID: "room-1", SenderID: "alice", Text: "hello"}).
			Return(stored, nil)

		w := postJSON(router, "/api/messages", controllers.CreateMessageInput{RoomID: "room-1", Text: "hello"})

		req.Equal(http.StatusCreated, w.Code)
		var got models.Message
		req.NoError(json.Unmarshal(w.Body.Bytes(), &got))
		req.Equal("m-1", got.ID)
	})

	tests := []struct {
		name    string
		message *models.Message
		err     error
		want    int
	}{
		{"validation", nil, &relay.ValidationError{Fields: []relay.FieldError{{Field: "text", Reason: "is required"}}}, http.StatusBadRequest},
		{"persistence", nil, &relay.PersistenceError{Err: errors.New("db down")}, http.StatusInternalServerError},
		{"publish", stored, &relay.PublishError{MessageID: "m-1", Err: errors.New("log down")}, http.StatusAccepted},
		{"closed", nil, relay.ErrProducerClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, producer, _ := messageRouter(t)
			producer.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(tt.message, tt.err)

			w := postJSON(router, "/api/messages", controllers.CreateMessageInput{RoomID: "room-1", Text: "hello"})

			require.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("should reject a body that is not json", func(t *testing.T) {
		router, producer, _ := messageRouter(t)
		producer.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewBufferString("nope"))
		r.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMessageController_GetMessages(t *testing.T) {
	t.Run("should pass a normalized page to the store", func(t *testing.T) {
		req := require.New(t)
		router, _, reader := messageRouter(t)

		reader.EXPECT().
			ListMessages(gomock.Any(), "room-1", models.Page{Limit: models.MaxPageLimit, Before: "m-9"}).
			Return([]models.Message{{ID: "m-1"}, {ID: "m-2"}}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages?room_id=room-1&limit=1000&before=m-9", nil))

		req.Equal(http.StatusOK, w.Code)
		var body struct {
			Messages []models.Message `json:"messages"`
		}
		req.NoError(json.Unmarshal(w.Body.Bytes(), &body))
		req.Len(body.Messages, 2)
	})

	t.Run("should require a room", func(t *testing.T) {
		router, _, _ := messageRouter(t)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should reject a non numeric limit", func(t *testing.T) {
		router, _, _ := messageRouter(t)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages?room_id=r&limit=ten", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMessageController_RepublishMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"republished", nil, http.StatusOK},
		{"unknown message", database.ErrNotFound, http.StatusNotFound},
		{"log still down", &relay.PublishError{MessageID: "m-1", Err: errors.New("down")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, producer, _ := messageRouter(t)
			producer.EXPECT().Republish(gomock.Any(), "m-1").Return(&models.Message{ID: "m-1"}, tt.err)

			w := postJSON(router, "/api/messages/m-1/republish", nil)

			require.Equal(t, tt.want, w.Code)
		})
	}
}
