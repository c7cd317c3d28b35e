package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the Postgres pool holding the transaction audit log.
type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database = getEnv("CRASH_DB_DATABASE", "crashdb")
	password = getEnv("CRASH_DB_PASSWORD", "postgres")
	username = getEnv("CRASH_DB_USERNAME", "postgres")
	port     = getEnv("CRASH_DB_PORT", "5432")
	host     = getEnv("CRASH_DB_HOST", "localhost")
	schema   = getEnv("CRASH_DB_SCHEMA", "public")
)

// New connects to Postgres. Returns nil when the connection fails; the
// server treats the audit log as optional and degrades to a no-op
// recorder.
func New() Service {
	connStr := ConnString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Printf("[DB] Pool creation failed: %v", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		log.Printf("[DB] Postgres connection failed: %v", err)
		pool.Close()
		return nil
	}

	log.Println("[DB] Postgres connected")
	return &service{pool: pool}
}

// ConnString builds the connection URL from the environment.
func ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)

	return stats
}

func (s *service) Close() error {
	log.Println("[DB] Disconnecting from Postgres")
	s.pool.Close()
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
