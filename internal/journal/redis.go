package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"certreg/pkg/platform/sentinel"
)

const redisReplayPage = 512

// RedisStore keeps entries as JSON in one Redis list; list position i holds
// seq i+1. Appends are guarded by WATCH on the list so a concurrent writer
// surfaces as sentinel.ErrConflict instead of interleaving.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	err = s.client.Watch(ctx, func(rtx *redis.Tx) error {
		n, err := rtx.LLen(ctx, s.key).Result()
		if err != nil {
			return err
		}
		if uint64(n) != entry.Seq-1 {
			return fmt.Errorf("%w: journal %s holds %d entries, cannot append seq %d",
				sentinel.ErrConflict, s.key, n, entry.Seq)
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.key, payload)
			return nil
		})
		return err
	}, s.key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: journal %s modified concurrently", sentinel.ErrConflict, s.key)
	case errors.Is(err, sentinel.ErrConflict):
		return err
	default:
		return fmt.Errorf("append journal entry: %w", err)
	}
}

func (s *RedisStore) Replay(ctx context.Context, fn func(Entry) error) error {
	for start := int64(0); ; start += redisReplayPage {
		page, err := s.client.LRange(ctx, s.key, start, start+redisReplayPage-1).Result()
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		for _, raw := range page {
			var entry Entry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				return fmt.Errorf("decode journal entry: %w", err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		if len(page) < redisReplayPage {
			return nil
		}
	}
}

func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
