package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/intellicollab/chat-relay/config"
	"github.com/intellicollab/chat-relay/controllers"
	"github.com/intellicollab/chat-relay/database"
	"github.com/intellicollab/chat-relay/eventlog"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/middleware"
	"github.com/intellicollab/chat-relay/relay"
	"github.com/intellicollab/chat-relay/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
)

// EventLog is everything the service needs from the event log client.
type EventLog interface {
	eventlog.Publisher
	EnsureTopic(ctx context.Context, topic string) error
	Subscribe(topic, groupID string) (eventlog.Subscription, error)
	Close() error
}

// App owns the relay pipeline and the HTTP server in front of it.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	store    database.Store
	events   EventLog
	metrics  *metrics.Collector
	registry *prometheus.Registry

	hub      *websocket.Hub
	producer *relay.Producer
	gateway  *websocket.Gateway
	consumer *relay.Consumer
	router   *gin.Engine

	// Lifetime of the consumer and of websocket sessions.
	ctx    context.Context
	cancel context.CancelFunc

	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
	done     <-chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// OpenDeps connects the configured store and event log client.
func OpenDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (database.Store, EventLog, error) {
	store, err := database.Open(ctx, database.Options{
		Driver:         cfg.StoreDriver,
		Host:           cfg.DBHost,
		User:           cfg.DBUser,
		Password:       cfg.DBPassword,
		Name:           cfg.DBName,
		Port:           cfg.DBPort,
		SQLitePath:     cfg.SQLitePath,
		MongoURL:       cfg.MongoURL,
		MongoDatabase:  cfg.MongoDatabase,
		ConnectTimeout: cfg.StoreTimeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("message store: %w", err)
	}

	switch cfg.EventLogDriver {
	case config.EventLogMemory:
		log.Warn("Using the in-process event log, messages are not shared between instances")
		return store, eventlog.NewMemory(log), nil
	case config.EventLogKafka:
		return store, eventlog.NewKafka(eventlog.KafkaConfig{
			Brokers:           cfg.Brokers(),
			ClientID:          cfg.KafkaClientID,
			Partitions:        cfg.KafkaPartitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			PublishTimeout:    cfg.PublishTimeout,
		}, log), nil
	default:
		_ = store.Close()
		return nil, nil, fmt.Errorf("unknown event log driver %q", cfg.EventLogDriver)
	}
}

// New assembles the application around an opened store and event log.
// Nothing runs until Start.
func New(cfg config.Config, log *slog.Logger, store database.Store, events EventLog) *App {
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.NewCollector()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m,
	)

	publisher := eventlog.NewRetryingPublisher(events, eventlog.RetryConfig{
		Attempts:       cfg.PublishAttempts,
		Delay:          cfg.PublishRetryDelay,
		MaxDelay:       cfg.PublishRetryMaxDelay,
		AttemptTimeout: cfg.PublishTimeout,
	}, log).OnRetry(func(topic string, _ int, _ error) {
		m.PublishRetried(topic)
	})

	hub := websocket.NewHub(log, m, cfg.DedupeWindow)
	producer := relay.NewProducer(store, publisher, cfg.KafkaTopic, cfg.MaxTextLength, log, m)
	gateway := websocket.NewGateway(ctx, hub, producer, websocket.GatewayConfig{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: int64(cfg.MaxMessageSize),
		RateLimit:      cfg.RateLimitPerSecond,
		RateBurst:      cfg.RateLimitBurst,
	}, log, m)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		events:   events,
		metrics:  m,
		registry: registry,
		hub:      hub,
		producer: producer,
		gateway:  gateway,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.router = a.routes()
	return a
}

func (a *App) verifier() middleware.IdentityVerifier {
	if a.cfg.AuthMode == config.AuthHeader {
		return middleware.HeaderVerifier{}
	}
	return middleware.NewJWTVerifier(a.cfg.JWTSecret)
}

func (a *App) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(a.log), middleware.CORS())

	router.GET("/health", controllers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := middleware.Auth(a.verifier(), a.log)
	limiter := middleware.NewRateLimiter(a.cfg.RateLimitPerSecond, a.cfg.RateLimitBurst)

	rooms := controllers.NewRoomController(a.store, a.log)
	messages := controllers.NewMessageController(a.producer, a.store, a.log)

	api := router.Group("/api")
	api.Use(auth, limiter.Middleware())
	{
		api.GET("/rooms", rooms.GetRooms)
		api.POST("/rooms", rooms.CreateRoom)
		api.GET("/rooms/:id", rooms.GetRoom)

		api.GET("/messages", messages.GetMessages)
		api.POST("/messages", messages.CreateMessage)
		api.POST("/messages/:id/republish", messages.RepublishMessage)
	}

	router.GET("/ws", auth, a.gateway.HandleConnection)
	return router
}

// Handler is the HTTP handler serving the API and the websocket endpoint.
func (a *App) Handler() http.Handler { return a.router }

// Hub exposes the connection registry.
func (a *App) Hub() *websocket.Hub { return a.hub }

// Addr is the address the server listens on once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return a.cfg.Address()
	}
	return a.listener.Addr().String()
}

// Start brings the pipeline up: topic, consumer group, then the HTTP
// listener. When it returns an error nothing is left running.
func (a *App) Start(ctx context.Context) error {
	if err := a.events.EnsureTopic(ctx, a.cfg.KafkaTopic); err != nil {
		return fmt.Errorf("ensure topic %s: %w", a.cfg.KafkaTopic, err)
	}

	subscription, err := a.events.Subscribe(a.cfg.KafkaTopic, a.cfg.KafkaGroupID)
	if err != nil {
		return fmt.Errorf("subscribe %s as %s: %w", a.cfg.KafkaTopic, a.cfg.KafkaGroupID, err)
	}
	a.consumer = relay.NewConsumer(subscription, a.hub, a.log, a.metrics)

	listener, err := net.Listen("tcp", a.cfg.Address())
	if err != nil {
		_ = a.consumer.Close()
		a.consumer = nil
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Address(), err)
	}
	a.listener = listener
	a.server = &http.Server{Handler: a.router}

	group, gctx := errgroup.WithContext(a.ctx)
	group.Go(func() error {
		return a.consumer.Run(gctx)
	})
	group.Go(func() error {
		a.log.Info("Server running", "address", listener.Addr().String())
		if err := a.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	a.group = group
	a.done = gctx.Done()
	return nil
}

// Done is closed when the server or the consumer fails, or on Shutdown.
func (a *App) Done() <-chan struct{} {
	if a.done == nil {
		return a.ctx.Done()
	}
	return a.done
}

// Wait blocks until the server and the consumer have both stopped.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Shutdown stops the service in dependency order: no new connections, no
// more consumption, no more publishing, sockets closed, then the event log
// and the store. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		a.log.Info("Stopping HTTP server...")
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	if a.consumer != nil {
		a.log.Info("Stopping relay consumer...")
		a.cancel()
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer: %w", err))
		}
	}
	if err := a.Wait(); err != nil {
		errs = append(errs, err)
	}

	a.log.Info("Closing relay producer...")
	if err := a.producer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay producer: %w", err))
	}

	a.log.Info("Closing websocket connections...")
	a.hub.Close()
	a.cancel()
	waitCtx(ctx, a.gateway.Wait)

	a.log.Info("Closing event log...")
	if err := a.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event log: %w", err))
	}
	a.log.Info("Closing message store...")
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("message store: %w", err))
	}
	return errors.Join(errs...)
}

// waitCtx runs wait but gives up when ctx is done.
func waitCtx(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
