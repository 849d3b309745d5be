package entitycache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"abilico-inference/pkg/predict"
	"abilico-inference/pkg/store"
)

// memStore is an in-memory PredictionStore for exercising the two-tier path.
type memStore struct {
	entries map[string]*store.PredictionEntry
	fail    bool
	gets    int
	puts    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*store.PredictionEntry)}
}

func (m *memStore) GetMany(ctx context.Context, keys []string) (map[string]*store.PredictionEntry, error) {
	m.gets++
	if m.fail {
		return nil, errors.New("store down")
	}
	out := make(map[string]*store.PredictionEntry)
	for _, k := range keys {
		if e, ok := m.entries[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (m *memStore) PutMany(ctx context.Context, entries []*store.PredictionEntry) error {
	m.puts++
	if m.fail {
		return errors.New("store down")
	}
	for _, e := range entries {
		m.entries[e.Key] = e
	}
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.entries = make(map[string]*store.PredictionEntry)
	return nil
}

func (m *memStore) Close() error { return nil }

func entry(key, version string) *store.PredictionEntry {
	return &store.PredictionEntry{
		Key: key,
		Predictions: map[string]*predict.Prediction{
			"surface": {Attribute: "surface", Kind: predict.KindClassifier, Label: "asphalt"},
		},
		SchemaVersion: version,
		CachedAt:      time.Now(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ms := newMemStore()
	c, err := New(ms, 10, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := c.PutMany(ctx, []*store.PredictionEntry{entry("road_1", ""), entry("place_1", "")}); err != nil {
		t.Fatal(err)
	}

	got := c.GetMany(ctx, []string{"road_1", "place_1", "road_missing"})
	if len(got) != 2 {
		t.Fatalf("hits = %d, want 2", len(got))
	}
	if got["road_1"] == nil || got["place_1"] == nil {
		t.Error("expected both written keys back")
	}
}

func TestMemoryHitSkipsStore(t *testing.T) {
	ms := newMemStore()
	c, _ := New(ms, 10, 10, nil)
	ctx := context.Background()

	c.PutMany(ctx, []*store.PredictionEntry{entry("road_1", "")})
	before := ms.gets
	if e := c.GetOne(ctx, "road_1"); e == nil {
		t.Fatal("expected memory hit")
	}
	if ms.gets != before {
		t.Errorf("memory hit still reached the store (%d reads)", ms.gets-before)
	}
}

func TestPersistentHitPopulatesMemory(t *testing.T) {
	ms := newMemStore()
	ms.entries["road_1"] = entry("road_1", "")
	c, _ := New(ms, 10, 10, nil)
	ctx := context.Background()

	if e := c.GetOne(ctx, "road_1"); e == nil {
		t.Fatal("expected persistent hit")
	}
	roads, _ := c.MemoryLen()
	if roads != 1 {
		t.Errorf("memory tier not populated, roads = %d", roads)
	}
}

func TestInsertionOrderEviction(t *testing.T) {
	// Reads must not refresh recency: with capacity 3, reading the oldest
	// entry and then inserting a fourth still evicts the oldest.
	c, _ := New(newMemStore(), 3, 3, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		c.PutMany(ctx, []*store.PredictionEntry{entry(fmt.Sprintf("road_%d", i), "")})
	}
	c.GetMany(ctx, []string{"road_1"}) // would promote road_1 under plain LRU

	c.PutMany(ctx, []*store.PredictionEntry{entry("road_4", "")})

	if _, ok := c.roads.Peek("road_1"); ok {
		t.Error("road_1 survived eviction; reads must not refresh recency")
	}
	for _, k := range []string{"road_2", "road_3", "road_4"} {
		if _, ok := c.roads.Peek(k); !ok {
			t.Errorf("%s missing after eviction", k)
		}
	}
}

func TestDomainTiersAreIndependent(t *testing.T) {
	c, _ := New(newMemStore(), 2, 2, nil)
	ctx := context.Background()

	c.PutMany(ctx, []*store.PredictionEntry{
		entry("road_1", ""), entry("road_2", ""), entry("road_3", ""),
		entry("place_1", ""),
	})

	roads, places := c.MemoryLen()
	if roads != 2 {
		t.Errorf("roads = %d, want 2 (capacity)", roads)
	}
	if places != 1 {
		t.Errorf("places = %d, want 1", places)
	}
}

func TestSchemaVersionInvalidates(t *testing.T) {
	ms := newMemStore()
	c, _ := New(ms, 10, 10, nil)
	ctx := context.Background()

	c.SetSchemaVersion("1")
	c.PutMany(ctx, []*store.PredictionEntry{entry("road_1", "1")})

	if e := c.GetOne(ctx, "road_1"); e == nil {
		t.Fatal("entry should be valid under version 1")
	}

	c.SetSchemaVersion("2")
	if e := c.GetOne(ctx, "road_1"); e != nil {
		t.Error("stale-version entry served as a hit")
	}
}

func TestStoreFailureDegrades(t *testing.T) {
	ms := newMemStore()
	ms.fail = true
	c, _ := New(ms, 10, 10, nil)
	ctx := context.Background()

	// Reads survive a dead store.
	if got := c.GetMany(ctx, []string{"road_1"}); len(got) != 0 {
		t.Errorf("expected no hits, got %v", got)
	}

	// Writes report the failure but still land in memory.
	if err := c.PutMany(ctx, []*store.PredictionEntry{entry("road_1", "")}); err == nil {
		t.Error("expected write error from failing store")
	}
	if _, ok := c.roads.Peek("road_1"); !ok {
		t.Error("memory tier should hold the entry despite the store failure")
	}
}

func TestClearAndDropMemory(t *testing.T) {
	ms := newMemStore()
	c, _ := New(ms, 10, 10, nil)
	ctx := context.Background()

	c.PutMany(ctx, []*store.PredictionEntry{entry("road_1", ""), entry("place_1", "")})

	c.DropMemory()
	roads, places := c.MemoryLen()
	if roads+places != 0 {
		t.Errorf("DropMemory left %d entries", roads+places)
	}
	if len(ms.entries) != 2 {
		t.Error("DropMemory must not touch the persistent tier")
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if len(ms.entries) != 0 {
		t.Error("Clear must empty the persistent tier")
	}
}
