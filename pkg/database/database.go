package database

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pool limits are deliberately small: the service is I/O bound and the
// upstream Postgres plan caps connections.
const (
	maxOpenConns   = 5
	maxIdleConns   = 1
	connIdleTime   = 30 * time.Second
	acquireTimeout = 2 * time.Second
)

var (
	once sync.Once
	db   *gorm.DB
)

// Init opens the connection pool exactly once, eagerly, and verifies it with
// a bounded ping. Subsequent calls return the same *gorm.DB; there is no
// reactive re-initialization path.
func Init() *gorm.DB {
	once.Do(func() {
		dsn := os.Getenv("DATABASE_URL")
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect database:", err)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			log.Fatal("failed to access pool:", err)
		}
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxIdleTime(connIdleTime)

		ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			log.Fatal("database unreachable:", err)
		}

		db = conn
	})
	return db
}

// Close drains the pool. Called from the server's shutdown hook.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
