package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumenlog/activityd/internal/storage"
	"github.com/redis/go-redis/v9"
)

const knownSet = "activity:sessions"

type sessionStore struct {
	client *redis.Client
}

func sessionKey(id string) string {
	return fmt.Sprintf("activity:session:%s", id)
}

// Register adds a lineage id to the known set
func (s *sessionStore) Register(ctx context.Context, id string) error {
	return s.client.SAdd(ctx, knownSet, id).Err()
}

// Known returns all registered lineage ids
func (s *sessionStore) Known(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, knownSet).Result()
}

// Get retrieves a session document by id
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session storage.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	return &session, nil
}

// GetMany loads session documents in a pipeline, skipping missing ids
func (s *sessionStore) GetMany(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}

		var session storage.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			continue
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// Put replaces the whole session document
func (s *sessionStore) Put(ctx context.Context, session storage.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}
	return s.client.Set(ctx, sessionKey(session.ID), data, 0).Err()
}

// SetEnd sets the session's end timestamp
func (s *sessionStore) SetEnd(ctx context.Context, id string, end float64) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		session.End = &end
		return nil
	})
}

// SetDuration sets the session's derived duration
func (s *sessionStore) SetDuration(ctx context.Context, id string, seconds int64) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		session.Duration = seconds
		return nil
	})
}

// AppendInterval appends a new interval to the session's app list
func (s *sessionStore) AppendInterval(ctx context.Context, id string, interval storage.AppInterval) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		session.Apps = append(session.Apps, interval)
		return nil
	})
}

// CloseInterval sets end and duration on the interval at idx, in place.
// Each interval carries exactly one authoritative end state, so closing
// mutates the interval rather than appending a corrected copy.
func (s *sessionStore) CloseInterval(ctx context.Context, id string, idx int, end float64) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		if idx < 0 || idx >= len(session.Apps) {
			return fmt.Errorf("interval index %d out of range for session %s", idx, id)
		}
		app := &session.Apps[idx]
		app.End = &end
		app.Duration = int64(end - app.Start)
		return nil
	})
}

// SetIntervalDuration sets the derived duration of the interval at idx
func (s *sessionStore) SetIntervalDuration(ctx context.Context, id string, idx int, seconds int64) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		if idx < 0 || idx >= len(session.Apps) {
			return fmt.Errorf("interval index %d out of range for session %s", idx, id)
		}
		session.Apps[idx].Duration = seconds
		return nil
	})
}

// update applies a sub-path mutation as a document read-modify-write. Safe
// under the single-writer model: no concurrent mutation of a given document.
func (s *sessionStore) update(ctx context.Context, id string, mutate func(*storage.Session) error) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := mutate(session); err != nil {
		return err
	}

	return s.Put(ctx, *session)
}
