package modelcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/pkg/store"
)

// FetchError reports a failed artifact download.
type FetchError struct {
	Name   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s: fetch failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("model %s: fetch returned status %d", e.Name, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache serves model artifact bytes, hiding network latency behind the
// persistent store. Concurrent fetches for the same model coalesce into a
// single download and a single store write.
type Cache struct {
	store   store.ModelStore
	baseURL string
	client  *http.Client
	log     logger.ILogger

	mu       sync.Mutex
	inflight map[string]*fetchCall
}

type fetchCall struct {
	done  chan struct{}
	bytes []byte
	err   error
}

func New(modelStore store.ModelStore, baseURL string, log logger.ILogger) *Cache {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Cache{
		store:    modelStore,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 5 * time.Minute}, // artifacts run to ~100MB
		log:      log,
		inflight: make(map[string]*fetchCall),
	}
}

// Fetch returns the artifact bytes for one model. The persistent copy is used
// when its stamped schema version matches; otherwise the artifact is
// downloaded, persisted under the current version and returned.
func (c *Cache) Fetch(ctx context.Context, name, file, schemaVersion string) ([]byte, error) {
	if c.store != nil {
		entry, err := c.store.Get(ctx, name)
		if err != nil {
			c.log.Warn("ModelCache", "persistent read failed", map[string]interface{}{
				"model": name, "error": err.Error(),
			})
		} else if entry != nil && entry.SchemaVersion == schemaVersion {
			return entry.Bytes, nil
		}
	}

	c.mu.Lock()
	if call, ok := c.inflight[name]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.bytes, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[name] = call
	c.mu.Unlock()

	call.bytes, call.err = c.download(ctx, name, file, schemaVersion)
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, name)
	c.mu.Unlock()

	return call.bytes, call.err
}

func (c *Cache) download(ctx context.Context, name, file, schemaVersion string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Name: name, Status: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	c.log.Info("ModelCache", "artifact downloaded", map[string]interface{}{
		"model":  name,
		"sizeMB": fmt.Sprintf("%.1f", float64(len(bodyBytes))/(1024*1024)),
		"tookMs": time.Since(started).Milliseconds(),
	})

	if c.store != nil {
		err := c.store.Put(ctx, &store.ModelEntry{
			Name:          name,
			Bytes:         bodyBytes,
			SchemaVersion: schemaVersion,
			CachedAt:      time.Now(),
		})
		if err != nil {
			// A refused write costs a re-download next session, nothing more.
			c.log.Warn("ModelCache", "persistent write failed", map[string]interface{}{
				"model": name, "error": err.Error(),
			})
		}
	}
	return bodyBytes, nil
}

// Clear removes all stored artifacts.
func (c *Cache) Clear(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Stats lists the stored artifacts for diagnostics.
func (c *Cache) Stats(ctx context.Context) ([]store.ModelStat, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.Stats(ctx)
}
