package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/pkg/store"
)

// storeVersion versions the store layout itself, independently of model
// content. A mismatch deletes and recreates every bucket.
const storeVersion = "3"

var (
	bucketModels       = []byte("models")
	bucketPredictions  = []byte("predictions")
	bucketPredictedAt  = []byte("predictions_by_time")
	bucketMeta         = []byte("meta")
	keyStoreVersion    = []byte("store_version")
	allBuckets         = [][]byte{bucketModels, bucketPredictions, bucketPredictedAt, bucketMeta}
	predictionBuckets  = [][]byte{bucketPredictions, bucketPredictedAt}
	openTimeout        = 5 * time.Second
	timeIndexKeyLayout = time.RFC3339Nano
)

// DB is the embedded object store backing both the model artifact cache and
// the persistent prediction tier. It implements store.ModelStore and
// store.PredictionStore.
type DB struct {
	db  *bbolt.DB
	log logger.ILogger
}

// Open opens (or creates) the database file and runs the version handshake.
// The open blocks up to the timeout if another process holds the file, which
// is the upgrade-wait behavior the cache contract requires.
func Open(path string, log logger.ILogger) (*DB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &store.StoreError{Op: "creating store directory", Err: err}
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, &store.StoreError{Op: "opening store", Err: err}
	}

	d := &DB{db: db, log: log}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// migrate ensures the buckets exist and the store version matches. On a
// version conflict everything is dropped and recreated.
func (d *DB) migrate() error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		found := string(meta.Get(keyStoreVersion))
		if found != "" && found != storeVersion {
			conflict := &store.VersionConflictError{Found: found, Expected: storeVersion}
			d.log.Warn("BoltStore", "store version conflict, recreating", map[string]interface{}{
				"error": conflict.Error(),
			})
			for _, name := range allBuckets {
				if tx.Bucket(name) != nil {
					if err := tx.DeleteBucket(name); err != nil {
						return err
					}
				}
			}
			meta, err = tx.CreateBucket(bucketMeta)
			if err != nil {
				return err
			}
		}
		if err := meta.Put(keyStoreVersion, []byte(storeVersion)); err != nil {
			return err
		}
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &store.StoreError{Op: "migrating store", Err: err}
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

// --- store.PredictionStore ---

// GetMany issues one per-key lookup per requested key inside a single read
// transaction. Missing keys are absent from the result.
func (d *DB) GetMany(ctx context.Context, keys []string) (map[string]*store.PredictionEntry, error) {
	found := make(map[string]*store.PredictionEntry, len(keys))
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPredictions)
		if b == nil {
			return nil
		}
		for _, key := range keys {
			raw := b.Get([]byte(key))
			if raw == nil {
				continue
			}
			var entry store.PredictionEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				d.log.Warn("BoltStore", "dropping unreadable prediction entry", map[string]interface{}{
					"key": key, "error": err.Error(),
				})
				continue
			}
			found[key] = &entry
		}
		return nil
	})
	if err != nil {
		return nil, &store.StoreError{Op: "reading predictions", Err: err}
	}
	return found, nil
}

// PutMany writes every entry, and its cachedAt index row, in one transaction.
func (d *DB) PutMany(ctx context.Context, entries []*store.PredictionEntry) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPredictions)
		idx := tx.Bucket(bucketPredictedAt)
		for _, entry := range entries {
			raw, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entry.Key), raw); err != nil {
				return err
			}
			indexKey := fmt.Sprintf("%s|%s", entry.CachedAt.UTC().Format(timeIndexKeyLayout), entry.Key)
			if err := idx.Put([]byte(indexKey), []byte(entry.Key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &store.StoreError{Op: "writing predictions", Err: err}
	}
	return nil
}

// Clear drops the prediction buckets and recreates them empty.
func (d *DB) Clear(ctx context.Context) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range predictionBuckets {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &store.StoreError{Op: "clearing predictions", Err: err}
	}
	return nil
}

// --- store.ModelStore ---

func (d *DB) Get(ctx context.Context, name string) (*store.ModelEntry, error) {
	var entry *store.ModelEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketModels).Get([]byte(name))
		if raw == nil {
			return nil
		}
		var e store.ModelEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, &store.StoreError{Op: "reading model " + name, Err: err}
	}
	return entry, nil
}

func (d *DB) Put(ctx context.Context, entry *store.ModelEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return &store.StoreError{Op: "encoding model " + entry.Name, Err: err}
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketModels).Put([]byte(entry.Name), raw)
	})
	if err != nil {
		return &store.StoreError{Op: "writing model " + entry.Name, Err: err}
	}
	return nil
}

// ClearModels removes every stored artifact.
func (d *DB) ClearModels(ctx context.Context) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketModels) != nil {
			if err := tx.DeleteBucket(bucketModels); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(bucketModels)
		return err
	})
	if err != nil {
		return &store.StoreError{Op: "clearing models", Err: err}
	}
	return nil
}

// Predictions exposes the prediction-tier view of the database.
func (d *DB) Predictions() store.PredictionStore { return predictionStore{d} }

// Models exposes the artifact-tier view of the database.
func (d *DB) Models() store.ModelStore { return modelStore{d} }

type predictionStore struct{ d *DB }

func (s predictionStore) GetMany(ctx context.Context, keys []string) (map[string]*store.PredictionEntry, error) {
	return s.d.GetMany(ctx, keys)
}
func (s predictionStore) PutMany(ctx context.Context, entries []*store.PredictionEntry) error {
	return s.d.PutMany(ctx, entries)
}
func (s predictionStore) Clear(ctx context.Context) error { return s.d.Clear(ctx) }
func (s predictionStore) Close() error                    { return nil }

type modelStore struct{ d *DB }

func (s modelStore) Get(ctx context.Context, name string) (*store.ModelEntry, error) {
	return s.d.Get(ctx, name)
}
func (s modelStore) Put(ctx context.Context, entry *store.ModelEntry) error {
	return s.d.Put(ctx, entry)
}
func (s modelStore) Clear(ctx context.Context) error { return s.d.ClearModels(ctx) }
func (s modelStore) Stats(ctx context.Context) ([]store.ModelStat, error) {
	return s.d.Stats(ctx)
}
func (s modelStore) Close() error { return nil }

func (d *DB) Stats(ctx context.Context) ([]store.ModelStat, error) {
	var stats []store.ModelStat
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketModels).ForEach(func(k, v []byte) error {
			var e store.ModelEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // skip unreadable rows, stats are best-effort
			}
			stats = append(stats, store.ModelStat{
				Name:     e.Name,
				SizeMB:   float64(len(e.Bytes)) / (1024 * 1024),
				CachedAt: e.CachedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, &store.StoreError{Op: "reading model stats", Err: err}
	}
	return stats, nil
}
