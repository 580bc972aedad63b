package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/intellicollab/chat-relay/app"
	"github.com/intellicollab/chat-relay/config"
	"github.com/intellicollab/chat-relay/docs"
	"github.com/intellicollab/chat-relay/utils"
	"github.com/mama165/sdk-go/logs"
)

// @title           Chat Relay API
// @version         1.0
// @description     HTTP fallback and WebSocket gateway of the IntelliCollab chat relay
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	if !dotenv {
		log.Debug("No .env file found, using system environment variables")
	}

	// chat-relay token <user-id> mints a development token
	if len(args) == 2 && args[0] == "token" {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is required to mint tokens")
		}
		token, err := utils.GenerateToken(cfg.JWTSecret, args[1], 24*time.Hour)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, events, err := app.OpenDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	application := app.New(cfg, log, store, events)

	if err := application.Start(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return fmt.Errorf("startup failed: %w", err)
	}
	log.Info("Swagger documentation available", "url", fmt.Sprintf("http://localhost:%d/swagger/index.html", cfg.Port))

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case <-application.Done():
		log.Error("Relay stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Shutdown complete")
	return nil
}
