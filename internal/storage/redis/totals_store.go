package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lumenlog/activityd/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	classTotalPrefix = "activity:total:class:"
	appTotalPrefix   = "activity:total:app:"
)

type totalsStore struct {
	client *redis.Client
}

// Reset deletes every per-classification and per-app total key. The totals
// are a full rebuild each cycle, never an incremental update.
func (s *totalsStore) Reset(ctx context.Context) error {
	for _, prefix := range []string{classTotalPrefix, appTotalPrefix} {
		if err := s.deleteByPrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

// AddClassification adds seconds to a classification total
func (s *totalsStore) AddClassification(ctx context.Context, label string, seconds int64) error {
	return s.client.IncrBy(ctx, classTotalPrefix+label, seconds).Err()
}

// AddApp adds seconds to an application total
func (s *totalsStore) AddApp(ctx context.Context, name string, seconds int64) error {
	return s.client.IncrBy(ctx, appTotalPrefix+name, seconds).Err()
}

// ByClassification returns the classification totals keyed by label
func (s *totalsStore) ByClassification(ctx context.Context) (map[string]int64, error) {
	return s.scanTotals(ctx, classTotalPrefix)
}

// ByApp returns the application totals keyed by app name
func (s *totalsStore) ByApp(ctx context.Context) (map[string]int64, error) {
	return s.scanTotals(ctx, appTotalPrefix)
}

// Today returns both total maps for the current day
func (s *totalsStore) Today(ctx context.Context) (*storage.DayTotals, error) {
	byClass, err := s.scanTotals(ctx, classTotalPrefix)
	if err != nil {
		return nil, err
	}

	byApp, err := s.scanTotals(ctx, appTotalPrefix)
	if err != nil {
		return nil, err
	}

	return &storage.DayTotals{
		ByClassification: byClass,
		ByApp:            byApp,
	}, nil
}

func (s *totalsStore) deleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *totalsStore) scanTotals(ctx context.Context, prefix string) (map[string]int64, error) {
	totals := make(map[string]int64)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.Get(ctx, key)
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return nil, err
			}

			for i, cmd := range cmds {
				value, err := cmd.Result()
				if err != nil {
					continue
				}

				seconds, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("malformed total at %s: %w", keys[i], err)
				}
				totals[strings.TrimPrefix(keys[i], prefix)] = seconds
			}
		}

		cursor = next
		if cursor == 0 {
			return totals, nil
		}
	}
}
