package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumenlog/activityd/internal/storage"
	"github.com/redis/go-redis/v9"
)

type eventLog struct {
	client *redis.Client
	stream string
}

// Append adds an event to the stream under a single "data" field, the wire
// shape the desktop monitor produces.
func (l *eventLog) Append(ctx context.Context, event storage.ActivityEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
}

// ReadAfter returns up to count entries strictly after cursor. The read is
// non-blocking; the consumer owns the poll cadence.
func (l *eventLog) ReadAfter(ctx context.Context, cursor string, count int64) ([]storage.LogEntry, error) {
	streams, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.stream, cursor},
		Count:   count,
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []storage.LogEntry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			data, _ := msg.Values["data"].(string)
			entries = append(entries, storage.LogEntry{ID: msg.ID, Data: data})
		}
	}

	return entries, nil
}
