package modelcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"abilico-inference/pkg/store"
)

// memModelStore is an in-memory store.ModelStore.
type memModelStore struct {
	mu      sync.Mutex
	entries map[string]*store.ModelEntry
	failPut bool
}

func newMemModelStore() *memModelStore {
	return &memModelStore{entries: make(map[string]*store.ModelEntry)}
}

func (m *memModelStore) Get(ctx context.Context, name string) (*store.ModelEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[name], nil
}

func (m *memModelStore) Put(ctx context.Context, entry *store.ModelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("disk full")
	}
	m.entries[entry.Name] = entry
	return nil
}

func (m *memModelStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*store.ModelEntry)
	return nil
}

func (m *memModelStore) Stats(ctx context.Context) ([]store.ModelStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats []store.ModelStat
	for _, e := range m.entries {
		stats = append(stats, store.ModelStat{Name: e.Name, SizeMB: float64(len(e.Bytes)) / (1024 * 1024)})
	}
	return stats, nil
}

func (m *memModelStore) Close() error { return nil }

func artifactServer(t *testing.T, hits *atomic.Int64, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/surface.onnx" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDownloadsAndPersists(t *testing.T) {
	var hits atomic.Int64
	srv := artifactServer(t, &hits, []byte("onnx-bytes"))
	ms := newMemModelStore()
	c := New(ms, srv.URL, nil)
	ctx := context.Background()

	got, err := c.Fetch(ctx, "surface", "surface.onnx", "1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "onnx-bytes" {
		t.Errorf("bytes = %q", got)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	entry, _ := ms.Get(ctx, "surface")
	if entry == nil || entry.SchemaVersion != "1" {
		t.Fatalf("artifact not persisted: %+v", entry)
	}

	// Second fetch is served from the store.
	if _, err := c.Fetch(ctx, "surface", "surface.onnx", "1"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("store hit still downloaded, hits = %d", hits.Load())
	}
}

func TestFetchRedownloadsOnVersionChange(t *testing.T) {
	var hits atomic.Int64
	srv := artifactServer(t, &hits, []byte("onnx-v2"))
	ms := newMemModelStore()
	ms.entries["surface"] = &store.ModelEntry{Name: "surface", Bytes: []byte("onnx-v1"), SchemaVersion: "1", CachedAt: time.Now()}
	c := New(ms, srv.URL, nil)

	got, err := c.Fetch(context.Background(), "surface", "surface.onnx", "2")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "onnx-v2" {
		t.Errorf("bytes = %q, want fresh download", got)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestFetchNotFound(t *testing.T) {
	var hits atomic.Int64
	srv := artifactServer(t, &hits, nil)
	c := New(newMemModelStore(), srv.URL, nil)

	_, err := c.Fetch(context.Background(), "width", "width.onnx", "1")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", fetchErr.Status)
	}
}

func TestFetchCoalescesConcurrentDownloads(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("onnx-bytes"))
	}))
	t.Cleanup(srv.Close)

	c := New(newMemModelStore(), srv.URL, nil)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(ctx, "surface", "surface.onnx", "1")
		}(i)
	}

	// Let every goroutine reach the in-flight gate before the download
	// completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i]) != "onnx-bytes" {
			t.Errorf("caller %d got %q", i, results[i])
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 coalesced download", hits.Load())
	}
}

func TestFetchSurvivesStoreWriteFailure(t *testing.T) {
	var hits atomic.Int64
	srv := artifactServer(t, &hits, []byte("onnx-bytes"))
	ms := newMemModelStore()
	ms.failPut = true
	c := New(ms, srv.URL, nil)

	got, err := c.Fetch(context.Background(), "surface", "surface.onnx", "1")
	if err != nil {
		t.Fatalf("write failure must not fail the fetch: %v", err)
	}
	if string(got) != "onnx-bytes" {
		t.Errorf("bytes = %q", got)
	}
}
