package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/middleware"
	"github.com/intellicollab/chat-relay/models"
	"github.com/intellicollab/chat-relay/relay"
	"golang.org/x/time/rate"
)

// Submitter accepts a message for persistence and publication.
type Submitter interface {
	Submit(ctx context.Context, submission relay.Submission) (*models.Message, error)
}

type GatewayConfig struct {
	SendBufferSize int
	MaxMessageSize int64
	// Messages per second allowed on one connection; zero means unlimited.
	RateLimit float64
	// Bursts below one are raised to one.
	RateBurst int
}

// Gateway terminates websocket connections and turns their frames into
// registry and producer calls.
type Gateway struct {
	ctx       context.Context
	hub       *Hub
	submitter Submitter
	cfg       GatewayConfig
	log       *slog.Logger
	metrics   *metrics.Collector
	upgrader  websocket.Upgrader

	wg sync.WaitGroup
}

// NewGateway creates a gateway. Sessions inherit ctx; cancelling it aborts
// their in-flight submissions.
func NewGateway(ctx context.Context, hub *Hub, submitter Submitter, cfg GatewayConfig,
	log *slog.Logger, m *metrics.Collector) *Gateway {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 10000
	}
	return &Gateway{
		ctx:       ctx,
		hub:       hub,
		submitter: submitter,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades an authenticated request to a websocket session.
func (g *Gateway) HandleConnection(c *gin.Context) {
	identity := c.GetString(middleware.IdentityKey)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error
		g.log.Warn("Websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	client := newClient(g.ctx, conn, identity, g.cfg.SendBufferSize, g.limiter(), g.log)
	if err := g.hub.Register(client); err != nil {
		g.log.Warn("Rejected connection", "identity", identity, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline())
		_ = conn.Close()
		return
	}
	client.state.Store(int32(StateConnected))
	g.metrics.ConnectionOpened()
	client.log.Info("Client connected")

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump(g.cfg.MaxMessageSize, g.dispatch)
		g.hub.Unregister(client)
		g.metrics.ConnectionClosed()
		client.log.Info("Client disconnected")
	}()
}

// Wait blocks until every session's pumps have returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) limiter() *rate.Limiter {
	if g.cfg.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(g.cfg.RateLimit), max(g.cfg.RateBurst, 1))
}
