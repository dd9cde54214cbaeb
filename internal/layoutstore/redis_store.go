package layoutstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// RedisStore implements Store with one hash per project:
// layout:<project> field <model id> -> {"x":..,"y":..}.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return NewRedisStore(rdb), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func layoutKey(projectID string) string { return "layout:" + projectID }

func (s *RedisStore) Load(ctx context.Context, projectID string) (map[string]types.Position, error) {
	raw, err := s.rdb.HGetAll(ctx, layoutKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	out := make(map[string]types.Position, len(raw))
	for id, v := range raw {
		var p types.Position
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue
		}
		out[id] = p
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, projectID, modelID string, pos types.Position) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, layoutKey(projectID), modelID, b).Err()
}

func (s *RedisStore) Delete(ctx context.Context, projectID, modelID string) error {
	return s.rdb.HDel(ctx, layoutKey(projectID), modelID).Err()
}

func (s *RedisStore) Rekey(ctx context.Context, projectID, oldID, newID string) error {
	key := layoutKey(projectID)
	v, err := s.rdb.HGet(ctx, key, oldID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rekey position: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, newID, v)
		p.HDel(ctx, key, oldID)
		return nil
	})
	return err
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
