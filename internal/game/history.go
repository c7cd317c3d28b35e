package game

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const redisKeyHistory = "crash:history"

// RedisHistoryStore keeps the completed-round ring in a capped Redis
// list so observers reconnecting after a restart still see recent
// outcomes.
type RedisHistoryStore struct {
	client *redis.Client
	cap    int64
}

func NewRedisHistoryStore(client *redis.Client, capacity int) *RedisHistoryStore {
	if capacity <= 0 {
		capacity = 50
	}
	return &RedisHistoryStore{client: client, cap: int64(capacity)}
}

func (s *RedisHistoryStore) Append(ctx context.Context, o Outcome) {
	data, err := json.Marshal(o)
	if err != nil {
		return
	}
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, redisKeyHistory, data)
	pipe.LTrim(ctx, redisKeyHistory, 0, s.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[GAME] History append failed: %v", err)
	}
}

func (s *RedisHistoryStore) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 || int64(limit) > s.cap {
		limit = int(s.cap)
	}
	raw, err := s.client.LRange(ctx, redisKeyHistory, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(raw))
	for _, item := range raw {
		var o Outcome
		if json.Unmarshal([]byte(item), &o) == nil {
			out = append(out, o)
		}
	}
	return out, nil
}
