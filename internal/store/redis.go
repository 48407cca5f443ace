package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/tanq16/velodown/internal/utils"
)

const DefaultRedisKey = "velodown:state"

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (utils.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), &utils.PersistenceError{Op: "load", Err: err}
	}
	return decode(data)
}

func (r *RedisStore) Save(ctx context.Context, snap utils.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	return nil
}
