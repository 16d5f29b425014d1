package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis appends entries to one list per lobby.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: rdb}, nil
}

func LobbyKey(lobby string) string {
	return fmt.Sprintf("guess:lobby:%s:events", lobby)
}

func (r *Redis) Write(ctx context.Context, entries []Entry) error {
	pipe := r.client.Pipeline()
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, LobbyKey(e.Lobby), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Close() error { return r.client.Close() }
