package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abilico-inference/internal/dto"
	"abilico-inference/internal/pkg/serverutils"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/feed"
	"abilico-inference/pkg/postprocess"
)

// fakeOrchestrator satisfies service.IOrchestratorService with canned data.
type fakeOrchestrator struct {
	enabled   bool
	enrichErr error
}

func (f *fakeOrchestrator) Warmup(ctx context.Context) (*dto.WarmupResponse, error) {
	return &dto.WarmupResponse{Success: true}, nil
}

func (f *fakeOrchestrator) WarmupOnce() {}

func (f *fakeOrchestrator) Init(ctx context.Context) (*dto.InitResponse, error) {
	return &dto.InitResponse{Success: true, Models: []string{"surface", "width"}}, nil
}

func (f *fakeOrchestrator) Enrich(ctx context.Context, entities []entity.Entity) (*dto.EnrichResponse, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	out := make([]postprocess.EnrichedEntity, len(entities))
	for i, e := range entities {
		out[i] = postprocess.EnrichedEntity{ID: e.ID, Tags: e.Tags, HasPredictions: true}
	}
	return &dto.EnrichResponse{Entities: out, Predicted: len(out)}, nil
}

func (f *fakeOrchestrator) EnrichOne(ctx context.Context, e entity.Entity) (*postprocess.EnrichedEntity, error) {
	out := postprocess.Identity(e)
	return &out, nil
}

func (f *fakeOrchestrator) IsReady(ctx context.Context) (*dto.ReadyResponse, error) {
	return &dto.ReadyResponse{Ready: true, Enabled: f.enabled}, nil
}

func (f *fakeOrchestrator) AvailableModels(ctx context.Context) (*dto.AvailableModelsResponse, error) {
	return &dto.AvailableModelsResponse{Models: []string{"surface", "width"}}, nil
}

func (f *fakeOrchestrator) ClearPredictions(ctx context.Context) error { return nil }
func (f *fakeOrchestrator) ClearModels(ctx context.Context) error      { return nil }

func (f *fakeOrchestrator) CacheStats(ctx context.Context) (*dto.CacheStatsResponse, error) {
	return &dto.CacheStatsResponse{MemoryEntries: 7}, nil
}

func (f *fakeOrchestrator) SetEnabled(enabled bool) bool {
	f.enabled = enabled
	return enabled
}

func (f *fakeOrchestrator) Enabled() bool { return f.enabled }

type fakeViewport struct{}

func (fakeViewport) Snapshot(ctx context.Context, bbox feed.Bbox) (*dto.ViewportResponse, error) {
	return &dto.ViewportResponse{Count: 3}, nil
}

func newTestApp(orc *fakeOrchestrator) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	ctl := NewInferenceController(orc, fakeViewport{})
	ctl.RegisterRoutes(app.Group("/api"))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, serverutils.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded serverutils.APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

func TestEnrichEndpoint(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true})

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/enrich", dto.EnrichRequest{
		Entities: []entity.Entity{{ID: "way/1", Tags: map[string]string{"highway": "footway"}}},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
}

func TestEnrichRejectsEmptyBatch(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true})

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/enrich", dto.EnrichRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestEnrichFailureMapsToStatus(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true, enrichErr: errors.New("worker gone")})

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/enrich", dto.EnrichRequest{
		Entities: []entity.Entity{{ID: "way/1", Tags: map[string]string{"highway": "footway"}}},
	})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body.Message, "worker gone")
}

func TestSetEnabledEndpoint(t *testing.T) {
	orc := &fakeOrchestrator{enabled: true}
	app := newTestApp(orc)

	off := false
	resp, body := doJSON(t, app, fiber.MethodPut, "/api/enabled", dto.SetEnabledRequest{Enabled: &off})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.False(t, orc.enabled)

	// Missing body field is a validation error, not a silent default.
	resp, _ = doJSON(t, app, fiber.MethodPut, "/api/enabled", map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReadyEndpoint(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true})

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/ready", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
}

func TestViewportEndpoint(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true})

	resp, _ := doJSON(t, app, fiber.MethodGet, "/api/viewport?bbox=52.50,13.37,52.52,13.42", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/viewport?bbox=nonsense", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCacheEndpoints(t *testing.T) {
	app := newTestApp(&fakeOrchestrator{enabled: true})

	resp, _ := doJSON(t, app, fiber.MethodGet, "/api/cache/stats", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodDelete, "/api/cache/predictions", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodDelete, "/api/cache/models", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
