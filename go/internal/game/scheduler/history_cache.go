package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// RedisHistory keeps a capped list of settled outcomes per game, newest at
// the head.
type RedisHistory struct {
	client *redis.Client
	limit  int64
}

// NewRedisHistory connects to Redis and checks the connection.
func NewRedisHistory(addr, password string, db int) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisHistory{client: client, limit: maxHistory}, nil
}

func historyKey(game models.Game) string {
	return fmt.Sprintf("casino:%s:history", game)
}

// Push prepends one item and trims the list.
func (r *RedisHistory) Push(ctx context.Context, item models.HistoryItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal history item: %w", err)
	}
	key := historyKey(item.Game)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, r.limit-1)
		return nil
	})
	return err
}

// Recent returns up to limit items, newest first.
func (r *RedisHistory) Recent(ctx context.Context, game models.Game, limit int) ([]models.HistoryItem, error) {
	raw, err := r.client.LRange(ctx, historyKey(game), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	items := make([]models.HistoryItem, 0, len(raw))
	for _, s := range raw {
		var it models.HistoryItem
		if err := json.Unmarshal([]byte(s), &it); err != nil {
			continue // skip entries written by an older schema
		}
		items = append(items, it)
	}
	return items, nil
}

// Fill replaces the cached list with items given newest first. It backs off
// when the cached head settled after items were read, so a push that raced
// the query is never overwritten.
func (r *RedisHistory) Fill(ctx context.Context, game models.Game, items []models.HistoryItem) error {
	key := historyKey(game)
	values := make([]interface{}, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal history item: %w", err)
		}
		values = append(values, data)
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.LIndex(ctx, key, 0).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var head models.HistoryItem
			if json.Unmarshal([]byte(raw), &head) == nil && fillIsStale(head, items) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				pipe.RPush(ctx, key, values...)
				pipe.LTrim(ctx, key, 0, r.limit-1)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// a push landed while we were filling; it carries the newer state
		return nil
	}
	return err
}

// fillIsStale reports whether the cached head is newer than everything in
// items, which means items were read before that round settled.
func fillIsStale(head models.HistoryItem, items []models.HistoryItem) bool {
	if len(items) == 0 {
		return true
	}
	for _, it := range items {
		if it.RoundID == head.RoundID {
			return false
		}
	}
	if head.EndedAt == nil {
		return false
	}
	return items[0].EndedAt == nil || head.EndedAt.After(*items[0].EndedAt)
}

// Close closes the Redis connection.
func (r *RedisHistory) Close() error {
	return r.client.Close()
}
