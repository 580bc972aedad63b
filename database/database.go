package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intellicollab/chat-relay/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// ErrNotFound is returned when a room or message does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the Message Store plus the room lookups the HTTP fallback needs.
type Store interface {
	SaveMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID string, page models.Page) ([]models.Message, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context, organisationID string) ([]models.Room, error)
	Close() error
}

// Options selects and configures a store driver.
type Options struct {
	Driver string

	Host     string
	User     string
	Password string
	Name     string
	Port     int

	SQLitePath string

	MongoURL      string
	MongoDatabase string

	ConnectTimeout time.Duration
}

// DSN returns the postgres connection string.
func (o Options) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		o.Host, o.User, o.Password, o.Name, o.Port)
}

// Open connects the configured driver and migrates its schema.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	switch opts.Driver {
	case DriverPostgres:
		db, err := Connect(postgres.Open(opts.DSN()))
		if err != nil {
			return nil, err
		}
		log.Info("Database connection established", "driver", opts.Driver, "host", opts.Host, "name", opts.Name)
		return migrated(db, log)
	case DriverSQLite:
		db, err := Connect(sqlite.Open(opts.SQLitePath))
		if err != nil {
			return nil, err
		}
		log.Info("Database connection established", "driver", opts.Driver, "path", opts.SQLitePath)
		return migrated(db, log)
	case DriverMongo:
		store, err := OpenMongo(ctx, opts.MongoURL, opts.MongoDatabase, opts.ConnectTimeout, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// Connect opens a gorm connection with a quiet logger.
func Connect(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate automatically migrates the database schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Room{}, &models.Message{}); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

func migrated(db *gorm.DB, log *slog.Logger) (Store, error) {
	if err := Migrate(db); err != nil {
		if sqlDB, sqlErr := db.DB(); sqlErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	log.Info("Database migration completed")
	return NewGormStore(db), nil
}
