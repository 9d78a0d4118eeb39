package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biodoia/operatoros/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound la conversazione richiesta non esiste
	ErrNotFound = errors.New("conversation not found")
	// ErrVersionConflict un altro writer ha modificato la conversazione
	ErrVersionConflict = errors.New("conversation version conflict")
)

// Config contiene la configurazione del database
type Config struct {
	Type       string `mapstructure:"type" yaml:"type"`             // "postgres", "sqlite" o "memory"
	Connection string `mapstructure:"connection" yaml:"connection"` // Connection string
	MaxConns   int    `mapstructure:"max_conns" yaml:"max_conns"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
}

// DB wrappa la connessione GORM
type DB struct {
	*gorm.DB
}

// New apre il database relazionale indicato da cfg. Il tipo "memory" non passa
// da qui: lo store in memoria si ottiene con NewMemoryStore.
func New(cfg *Config) (*DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// sqlite ammette un solo writer alla volta
	if cfg.Type == "sqlite" && cfg.MaxConns == 0 {
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxConns/2, 1))
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{DB: db}, nil
}

func dialectorFor(cfg *Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(cfg.Connection), nil
	case "sqlite":
		return sqlite.Open(cfg.Connection), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

// AutoMigrate esegue le migrazioni del database
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.Conversation{},
		&models.StepRecord{},
	)
}

// DropAll elimina le tabelle gestite
func (db *DB) DropAll() error {
	return db.Migrator().DropTable(&models.StepRecord{}, &models.Conversation{})
}

// Ping verifica la connessione
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close chiude la connessione al database
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
