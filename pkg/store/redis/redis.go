package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/pkg/store"
)

const (
	keyPrefix  = "abilico:pred:"
	timeIndex  = "abilico:pred:cachedAt"
	scanStride = 500
)

// Store is a Redis-backed prediction tier for deployments where several
// service instances share one cache. Model artifacts stay in the local bolt
// file; only the small per-entity records go through Redis.
type Store struct {
	rdb *redis.Client
	log logger.ILogger
}

func New(rdb *redis.Client, log logger.ILogger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{rdb: rdb, log: log}
}

func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]*store.PredictionEntry, error) {
	if len(keys) == 0 {
		return map[string]*store.PredictionEntry{}, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	values, err := s.rdb.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, &store.StoreError{Op: "reading predictions", Err: err}
	}

	found := make(map[string]*store.PredictionEntry, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // nil → miss
		}
		var entry store.PredictionEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.Warn("RedisStore", "dropping unreadable prediction entry", map[string]interface{}{
				"key": keys[i], "error": err.Error(),
			})
			continue
		}
		found[keys[i]] = &entry
	}
	return found, nil
}

// PutMany writes all entries and their cachedAt index scores in one
// transactional pipeline.
func (s *Store) PutMany(ctx context.Context, entries []*store.PredictionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return &store.StoreError{Op: "encoding prediction " + entry.Key, Err: err}
		}
		pipe.Set(ctx, keyPrefix+entry.Key, raw, 0)
		pipe.ZAdd(ctx, timeIndex, redis.Z{
			Score:  float64(entry.CachedAt.UnixMilli()),
			Member: entry.Key,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &store.StoreError{Op: "writing predictions", Err: err}
	}
	return nil
}

// Clear iterates the prediction prefix and deletes in strides; the index set
// goes last so a crashed clear stays re-runnable.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", scanStride).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanStride {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return &store.StoreError{Op: "clearing predictions", Err: err}
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return &store.StoreError{Op: "scanning predictions", Err: err}
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return &store.StoreError{Op: "clearing predictions", Err: err}
		}
	}
	if err := s.rdb.Del(ctx, timeIndex).Err(); err != nil {
		return &store.StoreError{Op: "clearing prediction index", Err: err}
	}
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }
