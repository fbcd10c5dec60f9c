package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/kozaktomas/findandseek/internal/config"
)

// maxTxRetries bounds optimistic-lock retries when two writers race on one case.
const maxTxRetries = 3

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	Close() error
}

// RedisStore keeps every case as one JSON value plus a sorted set indexing
// case IDs by creation time.
type RedisStore struct {
	mutations
	client RedisClient
	prefix string
}

// OpenRedis connects to the server at cfg.URL and verifies it answers.
func OpenRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "findandseek"
	}
	s := &RedisStore{client: client, prefix: prefix}
	s.mutations = mutations{update: s.update, now: func() time.Time { return time.Now().UTC() }}
	return s
}

func (s *RedisStore) caseKey(id string) string { return s.prefix + ":case:" + id }
func (s *RedisStore) indexKey() string         { return s.prefix + ":cases" }

func (s *RedisStore) Create(ctx context.Context, details Details) (*Case, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	c := newCase(uuid.NewString(), details, s.now())
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal case: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.caseKey(c.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(c.CreatedAt.UnixNano()), Member: c.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	return c, nil
}

func decodeCase(id, raw string) (*Case, error) {
	var c Case
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("unmarshal case %s: %w", id, err)
	}
	return clone(&c), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Case, error) {
	raw, err := s.client.Get(ctx, s.caseKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return decodeCase(id, raw)
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Case, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list case ids: %w", err)
	}
	out := []*Case{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.caseKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// indexed but deleted
			continue
		}
		c, err := decodeCase(ids[i], raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// update uses WATCH on the case key and retries when another writer got in between.
func (s *RedisStore) update(ctx context.Context, id string, fn func(*Case) error) (*Case, error) {
	key := s.caseKey(id)

	var updated *Case
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get case: %w", err)
		}
		c, err := decodeCase(id, raw)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal case: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = c
		return nil
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update case %s: too much contention after %d attempts", id, maxTxRetries)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
