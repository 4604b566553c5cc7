package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DriverAuto     = "auto"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and configures the store backend.
type Options struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	Redis       RedisOptions
}

// degradedStore is the in-memory stand-in used when the configured backend
// cannot be reached.
type degradedStore struct {
	*InMemoryStore
}

// Degraded reports whether store is a non-durable substitute for an
// unreachable backend.
func Degraded(store Store) bool {
	_, ok := store.(*degradedStore)
	return ok
}

// ResolveDriver maps "auto" to a concrete driver based on which backend is
// configured: postgres, then redis, then sqlite, otherwise memory.
func ResolveDriver(opts Options) string {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver != "" && driver != DriverAuto {
		return driver
	}
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return DriverPostgres
	case strings.TrimSpace(opts.Redis.Addr) != "":
		return DriverRedis
	case strings.TrimSpace(opts.SQLitePath) != "":
		return DriverSQLite
	default:
		return DriverMemory
	}
}

// NewStore opens the configured backend and ensures its schema. A backend
// that cannot be reached degrades to an in-memory store with a warning; only
// an unknown driver name is an error.
func NewStore(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	driver := ResolveDriver(opts)
	log := logger.With().Str("component", "memory").Str("driver", driver).Logger()

	var (
		store Store
		err   error
	)
	switch driver {
	case DriverMemory:
		log.Info().Msg("using in-memory store; turns are not durable")
		return NewInMemoryStore(), nil
	case DriverSQLite:
		store, err = OpenSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		store, err = NewPostgresStore(ctx, opts.DatabaseURL)
	case DriverRedis:
		store, err = NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown memory driver %q", opts.Driver)
	}
	if err != nil {
		log.Warn().Err(err).Msg("memory backend unavailable; falling back to in-memory store")
		return &degradedStore{InMemoryStore: NewInMemoryStore()}, nil
	}
	log.Info().Msg("memory store ready")
	return store, nil
}
