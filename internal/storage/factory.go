package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/autoform/internal/db/driver"
)

// Backend kinds.
const (
	KindDatabase = "database"
	KindRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Kind     string
	Dialect  string
	DSN      string
	RedisURL string
	TTL      time.Duration
	Logger   *slog.Logger
}

// NewBackend creates the backend named by opts.Kind. An empty kind selects
// the database backend.
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case KindDatabase, "":
		dialect, err := driver.ParseDialect(opts.Dialect)
		if err != nil {
			return nil, err
		}
		return NewDatabaseBackend(ctx, opts.DSN, dialect, opts.Logger)
	case KindRedis:
		return NewRedisBackend(ctx, opts.RedisURL, WithTTL(opts.TTL))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Kind)
	}
}
