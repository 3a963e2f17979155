package redis

import (
	"context"

	"github.com/lumenlog/activityd/internal/storage"
	"github.com/redis/go-redis/v9"
)

const checkpointKey = "activity:checkpoint"

// OriginCursor is the stream position before the first entry.
const OriginCursor = "0"

type checkpointStore struct {
	client *redis.Client
}

// Get retrieves the checkpoint, defaulting to the log origin when absent
func (s *checkpointStore) Get(ctx context.Context) (*storage.Checkpoint, error) {
	data, err := s.client.HGetAll(ctx, checkpointKey).Result()
	if err != nil {
		return nil, err
	}

	cp := &storage.Checkpoint{
		Cursor:      data["cursor"],
		LastLineage: data["last_lineage"],
	}
	if cp.Cursor == "" {
		cp.Cursor = OriginCursor
	}

	return cp, nil
}

// Advance acknowledges the entry at cursor. Both fields land in one HSET so a
// crash can never persist a cursor without its continuation anchor.
func (s *checkpointStore) Advance(ctx context.Context, cursor, lineage string) error {
	fields := []interface{}{"cursor", cursor}
	if lineage != "" {
		fields = append(fields, "last_lineage", lineage)
	}
	return s.client.HSet(ctx, checkpointKey, fields...).Err()
}
