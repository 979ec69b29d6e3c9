package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"

	"sync-service/internal/config"
)

// SQLProvider is implemented by relational adapters so other libraries (GORM)
// can share the same pool instead of opening a second one.
type SQLProvider interface {
	SQLDB(ctx context.Context) (*sql.DB, error)
}

// FromConfig builds the adapter config from the service config. DB_URL wins
// over the individual DB_* parts.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Driver:          cfg.DBDriver,
		DSN:             buildDSN(cfg),
		Database:        cfg.DBName,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnectTimeout:  cfg.DBConnectTimeout,
		QueryTimeout:    cfg.DBQueryTimeout,
	}
}

func buildDSN(cfg *config.Config) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	switch cfg.DBDriver {
	case "sqlite", "sqlite3":
		return fmt.Sprintf("file:%s.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", cfg.DBName)
	case "mongo", "mongodb":
		u := url.URL{Scheme: "mongodb", Host: cfg.DBHost + ":" + cfg.DBPort}
		if cfg.DBUser != "" {
			u.User = url.UserPassword(cfg.DBUser, cfg.DBPass)
		}
		return u.String()
	default:
		return fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
		)
	}
}

// Open builds and initializes the configured adapter. Startup callers treat
// an error here as fatal.
func Open(ctx context.Context, cfg *config.Config) (Adapter, error) {
	adapter, err := New(FromConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		return nil, err
	}
	log.Printf("✅ [DB] %s connected", adapter.Backend())
	return adapter, nil
}
