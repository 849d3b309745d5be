package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"abilico-inference/internal/dto"
	"abilico-inference/internal/pkg/logger"
	"abilico-inference/internal/worker"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/entitycache"
	"abilico-inference/pkg/postprocess"
)

// IOrchestratorService is the public face of the engine: it talks to the
// worker over the in-process bus and shields callers from its protocol.
type IOrchestratorService interface {
	Warmup(ctx context.Context) (*dto.WarmupResponse, error)
	WarmupOnce()
	Init(ctx context.Context) (*dto.InitResponse, error)
	Enrich(ctx context.Context, entities []entity.Entity) (*dto.EnrichResponse, error)
	EnrichOne(ctx context.Context, e entity.Entity) (*postprocess.EnrichedEntity, error)
	IsReady(ctx context.Context) (*dto.ReadyResponse, error)
	AvailableModels(ctx context.Context) (*dto.AvailableModelsResponse, error)
	ClearPredictions(ctx context.Context) error
	ClearModels(ctx context.Context) error
	CacheStats(ctx context.Context) (*dto.CacheStatsResponse, error)
	SetEnabled(enabled bool) bool
	Enabled() bool
}

const (
	requestTimeout = 2 * time.Minute
	statsCacheKey  = "model_cache_stats"
	statsCacheTTL  = 10 * time.Second
)

type orchestratorService struct {
	pubSub *gochannel.GoChannel
	preds  *entitycache.Cache
	log    logger.ILogger

	enabled    atomic.Bool
	warmupOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan *worker.Response

	statsCache *gocache.Cache
}

func NewOrchestratorService(pubSub *gochannel.GoChannel, preds *entitycache.Cache, lg logger.ILogger) (IOrchestratorService, error) {
	if lg == nil {
		lg = logger.NewNopLogger()
	}
	s := &orchestratorService{
		pubSub:     pubSub,
		preds:      preds,
		log:        lg,
		pending:    make(map[string]chan *worker.Response),
		statsCache: gocache.New(statsCacheTTL, time.Minute),
	}
	s.enabled.Store(true)

	messages, err := pubSub.Subscribe(context.Background(), worker.TopicResponses)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to response topic: %w", err)
	}
	go s.demux(messages)

	return s, nil
}

// demux routes worker responses to their waiting callers by correlation id.
// Responses nobody waits for anymore are dropped.
func (s *orchestratorService) demux(messages <-chan *message.Message) {
	for msg := range messages {
		msg.Ack()
		var resp worker.Response
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			log.Printf("[ERROR] Orchestrator: unreadable response: %v", err)
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if !ok {
			s.log.Debug("Orchestrator", "orphan response dropped", map[string]interface{}{
				"id": resp.ID, "type": resp.Type,
			})
			continue
		}
		ch <- &resp
	}
}

// request performs one round trip over the bus.
func (s *orchestratorService) request(ctx context.Context, reqType string, data interface{}) (*worker.Response, error) {
	id := watermill.NewUUID()
	req := worker.Request{Type: reqType, ID: id}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", reqType, err)
		}
		req.Data = payload
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", reqType, err)
	}

	ch := make(chan *worker.Response, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.pubSub.Publish(worker.TopicRequests, message.NewMessage(id, body)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to publish %s request: %w", reqType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.Type == worker.TypeError {
			return nil, errors.New(resp.Message)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *orchestratorService) Warmup(ctx context.Context) (*dto.WarmupResponse, error) {
	resp, err := s.request(ctx, worker.TypeWarmup, nil)
	if err != nil {
		return nil, err
	}
	return &dto.WarmupResponse{Success: resp.Success != nil && *resp.Success}, nil
}

// Init loads every model in the inventory, not just the warmup one.
func (s *orchestratorService) Init(ctx context.Context) (*dto.InitResponse, error) {
	resp, err := s.request(ctx, worker.TypeInit, nil)
	if err != nil {
		return nil, err
	}
	return &dto.InitResponse{
		Success: resp.Success != nil && *resp.Success,
		Models:  resp.Models,
	}, nil
}

// WarmupOnce kicks the warmup in the background, at most once per process.
// Failures are logged; the first predict call will retry the loads anyway.
func (s *orchestratorService) WarmupOnce() {
	s.warmupOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if _, err := s.Warmup(ctx); err != nil {
				s.log.Warn("Orchestrator", "background warmup failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	})
}

func (s *orchestratorService) Enrich(ctx context.Context, entities []entity.Entity) (*dto.EnrichResponse, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Enrich")
	span.SetAttributes(attribute.Int("entities.count", len(entities)))
	defer span.End()

	if !s.enabled.Load() {
		// Disabled engine passes entities through untouched.
		out := make([]postprocess.EnrichedEntity, len(entities))
		for i, e := range entities {
			out[i] = postprocess.Identity(e)
		}
		return &dto.EnrichResponse{Entities: out}, nil
	}

	resp, err := s.request(ctx, worker.TypePredictBatch, worker.PredictBatchData{Entities: entities})
	if err != nil {
		return nil, err
	}

	res := &dto.EnrichResponse{Entities: resp.Entities}
	for _, e := range resp.Entities {
		if e.HasPredictions {
			res.Predicted++
		}
		if e.FromCache {
			res.FromCache++
		}
	}
	span.SetAttributes(
		attribute.Int("entities.predicted", res.Predicted),
		attribute.Int("entities.from_cache", res.FromCache),
	)
	return res, nil
}

func (s *orchestratorService) EnrichOne(ctx context.Context, e entity.Entity) (*postprocess.EnrichedEntity, error) {
	if !s.enabled.Load() {
		out := postprocess.Identity(e)
		return &out, nil
	}
	resp, err := s.request(ctx, worker.TypePredict, worker.PredictData{Entity: e})
	if err != nil {
		return nil, err
	}
	if resp.Entity == nil {
		return nil, errors.New("predict: empty response")
	}
	return resp.Entity, nil
}

func (s *orchestratorService) IsReady(ctx context.Context) (*dto.ReadyResponse, error) {
	resp, err := s.request(ctx, worker.TypeIsReady, nil)
	if err != nil {
		return nil, err
	}
	return &dto.ReadyResponse{
		Ready:   resp.Ready != nil && *resp.Ready,
		Enabled: s.enabled.Load(),
	}, nil
}

func (s *orchestratorService) AvailableModels(ctx context.Context) (*dto.AvailableModelsResponse, error) {
	resp, err := s.request(ctx, worker.TypeAvailableModels, nil)
	if err != nil {
		return nil, err
	}
	return &dto.AvailableModelsResponse{Models: resp.Models}, nil
}

func (s *orchestratorService) ClearPredictions(ctx context.Context) error {
	_, err := s.request(ctx, worker.TypeClearPredictions, nil)
	if err == nil {
		s.statsCache.Flush()
	}
	return err
}

func (s *orchestratorService) ClearModels(ctx context.Context) error {
	_, err := s.request(ctx, worker.TypeClearModels, nil)
	if err == nil {
		s.statsCache.Flush()
	}
	return err
}

// CacheStats is memoized briefly; the stats endpoint is polled by dashboards
// and the store walk is not free.
func (s *orchestratorService) CacheStats(ctx context.Context) (*dto.CacheStatsResponse, error) {
	if cached, ok := s.statsCache.Get(statsCacheKey); ok {
		return cached.(*dto.CacheStatsResponse), nil
	}
	resp, err := s.request(ctx, worker.TypeModelCacheStats, nil)
	if err != nil {
		return nil, err
	}
	roads, places := s.preds.MemoryLen()
	out := &dto.CacheStatsResponse{Stats: resp.Stats, MemoryEntries: roads + places}
	s.statsCache.Set(statsCacheKey, out, gocache.DefaultExpiration)
	return out, nil
}

func (s *orchestratorService) SetEnabled(enabled bool) bool {
	s.enabled.Store(enabled)
	log.Printf("[INFO] Orchestrator: inference %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return enabled
}

func (s *orchestratorService) Enabled() bool { return s.enabled.Load() }
