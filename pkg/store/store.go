package store

import (
	"context"
	"fmt"
	"time"

	"abilico-inference/pkg/predict"
)

// StoreError reports a persistent-store failure. Callers treat it as
// non-fatal: caches degrade to write-through-only and inference continues.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// VersionConflictError reports an irreconcilable store-schema version
// mismatch. The bolt backend resolves it internally by deleting and
// recreating its buckets.
type VersionConflictError struct {
	Found    string
	Expected string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("store: schema version conflict: found %s, expected %s", e.Found, e.Expected)
}

// PredictionEntry is one cached per-entity prediction set. Key is
// "<domain>_<identity>"; the schema version stamps the entry so a schema bump
// invalidates it lazily.
type PredictionEntry struct {
	Key           string                         `json:"id"`
	Predictions   map[string]*predict.Prediction `json:"predictions"`
	SchemaVersion string                         `json:"schemaVersion"`
	CachedAt      time.Time                      `json:"cachedAt"`
}

// ModelEntry is one cached compiled model artifact.
type ModelEntry struct {
	Name          string    `json:"name"`
	Bytes         []byte    `json:"bytes"`
	SchemaVersion string    `json:"version"`
	CachedAt      time.Time `json:"cachedAt"`
}

// ModelStat describes one stored artifact for diagnostics.
type ModelStat struct {
	Name     string    `json:"name"`
	SizeMB   float64   `json:"sizeMB"`
	CachedAt time.Time `json:"cachedAt"`
}

// PredictionStore is the persistent tier of the prediction cache. GetMany
// must issue per-key lookups, never a full scan, and a missing key is simply
// absent from the result.
type PredictionStore interface {
	GetMany(ctx context.Context, keys []string) (map[string]*PredictionEntry, error)
	PutMany(ctx context.Context, entries []*PredictionEntry) error
	Clear(ctx context.Context) error
	Close() error
}

// ModelStore is the persistent tier of the model artifact cache.
type ModelStore interface {
	Get(ctx context.Context, name string) (*ModelEntry, error) // nil, nil on miss
	Put(ctx context.Context, entry *ModelEntry) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) ([]ModelStat, error)
	Close() error
}
