package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists transcripts and context snapshots in Redis with a
// rolling TTL, refreshed on every read.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func transcriptKey(conversationID string) string { return "conversation:" + conversationID }
func snapshotKey(conversationID string) string   { return "snapshot:" + conversationID }

type storedTranscript struct {
	Entries []TranscriptEntry `json:"entries"`
}

func (r *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg *schema.Message) error {
	transcript, err := r.loadTranscript(ctx, conversationID)
	if err != nil {
		return err
	}

	transcript.Entries = append(transcript.Entries, TranscriptEntry{
		Message:   msg,
		Timestamp: time.Now(),
	})

	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return r.client.Set(ctx, transcriptKey(conversationID), data, r.ttl).Err()
}

func (r *RedisStore) History(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	transcript, err := r.loadTranscript(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(transcript.Entries) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*schema.Message, 0, len(transcript.Entries))
	for _, e := range transcript.Entries {
		out = append(out, e.Message)
	}
	return out, nil
}

func (r *RedisStore) SaveSnapshot(ctx context.Context, conversationID string, snapshot any) error {
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, snapshotKey(conversationID), data, r.ttl).Err()
}

func (r *RedisStore) LoadSnapshot(ctx context.Context, conversationID string, dest any) error {
	data, err := r.client.Get(ctx, snapshotKey(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	r.client.Expire(ctx, snapshotKey(conversationID), r.ttl)
	return unmarshalSnapshot([]byte(data), dest)
}

func (r *RedisStore) Delete(ctx context.Context, conversationID string) error {
	return r.client.Del(ctx, transcriptKey(conversationID), snapshotKey(conversationID)).Err()
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) loadTranscript(ctx context.Context, conversationID string) (*storedTranscript, error) {
	data, err := r.client.Get(ctx, transcriptKey(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return &storedTranscript{}, nil
		}
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	var transcript storedTranscript
	if err := json.Unmarshal([]byte(data), &transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}

	// Refresh TTL on read, matching session semantics.
	r.client.Expire(ctx, transcriptKey(conversationID), r.ttl)
	return &transcript, nil
}
