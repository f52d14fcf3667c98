// Package sqlite stores chat data in a single SQLite file. It suits local development and
// single-node deployments; the connection pool is limited to one writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// driverName is go-sqlite3 with lowerFunc installed on every connection.
	driverName = "sqlite3_chat"
	// lowerFunc folds case with Go's Unicode tables; SQLite's LOWER only folds ASCII.
	lowerFunc = "go_lower"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(lowerFunc, strings.ToLower, true)
		},
	})

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			return NewStore(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// NewStore wraps a connection returned by Open.
func NewStore(db *gorm.DB) *gormstore.Store {
	return gormstore.New(db, gormstore.Options{LowerFunc: lowerFunc})
}

// Open connects to the database at dsn with foreign keys enforced.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "chat.db"
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: driverName, DSN: dsn + pragmas(dsn)}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func pragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Migrate creates or updates the tables for every chat model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.ConversationParticipant{}, &model.Message{})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := Migrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
