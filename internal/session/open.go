// ABOUTME: Factory selecting a session backend by name
// ABOUTME: Maps configuration onto memory, sqlite, postgres or redis stores

package session

import (
	"context"
	"fmt"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // memory, sqlite, postgres, redis
	MaxEntries  int
	SQLitePath  string
	PostgresDSN string
	RedisURL    string
}

// Open creates the store named by opts.Backend. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts.MaxEntries), nil
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresDSN)
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}
