package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenlog/activityd/internal/config"
	"github.com/lumenlog/activityd/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client      *redis.Client
	sessions    *sessionStore
	totals      *totalsStore
	checkpoints *checkpointStore
	events      *eventLog
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client:      client,
		sessions:    &sessionStore{client: client},
		totals:      &totalsStore{client: client},
		checkpoints: &checkpointStore{client: client},
		events:      &eventLog{client: client, stream: cfg.Stream},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Totals returns the TotalsStore implementation
func (s *Store) Totals() storage.TotalsStore {
	return s.totals
}

// Checkpoints returns the CheckpointStore implementation
func (s *Store) Checkpoints() storage.CheckpointStore {
	return s.checkpoints
}

// Events returns the EventLog implementation
func (s *Store) Events() storage.EventLog {
	return s.events
}
