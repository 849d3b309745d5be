package worker

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/pkg/encoder"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/entitycache"
	"abilico-inference/pkg/events"
	"abilico-inference/pkg/mlruntime"
	"abilico-inference/pkg/modelcache"
	"abilico-inference/pkg/schema"
)

// Worker owns the tensor sessions and both cache tiers, and serves the
// request topic. One serial job queue per model keeps the non-re-entrant
// runtime safe while distinct models run in parallel.
type Worker struct {
	pubSub      *gochannel.GoChannel
	loader      *schema.Loader
	models      *modelcache.Cache
	preds       *entitycache.Cache
	rt          mlruntime.Runtime
	bus         events.Publisher
	log         logger.ILogger
	warmupModel string
	subBatch    int

	mu         sync.Mutex
	doc        *schema.Document
	enc        *encoder.Encoder
	runners    map[string]*modelRunner
	loads      map[string]*loadCall
	schemaLoad *loadCall

	runCount atomic.Int64
}

type loadCall struct {
	done chan struct{}
	err  error
}

type Options struct {
	Loader          *schema.Loader
	ModelCache      *modelcache.Cache
	PredictionCache *entitycache.Cache
	Runtime         mlruntime.Runtime
	Events          events.Publisher // may be nil
	Logger          logger.ILogger
	WarmupModel     string
	SubBatchSize    int
}

func New(pubSub *gochannel.GoChannel, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.SubBatchSize <= 0 {
		opts.SubBatchSize = 100
	}
	if opts.WarmupModel == "" {
		opts.WarmupModel = "surface"
	}
	return &Worker{
		pubSub:      pubSub,
		loader:      opts.Loader,
		models:      opts.ModelCache,
		preds:       opts.PredictionCache,
		rt:          opts.Runtime,
		bus:         opts.Events,
		log:         opts.Logger,
		warmupModel: opts.WarmupModel,
		subBatch:    opts.SubBatchSize,
		runners:     make(map[string]*modelRunner),
		loads:       make(map[string]*loadCall),
	}
}

// Run subscribes to the request topic and serves until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.pubSub.Subscribe(ctx, TopicRequests)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			msg.Ack()
			var req Request
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				log.Printf("[ERROR] Worker: unreadable request: %v", err)
				continue
			}
			// Predicts are dispatched from this loop so jobs for the same
			// model enter its queue in arrival order. Control messages
			// stay concurrent.
			switch req.Type {
			case TypePredict, TypePredictBatch:
				w.handle(ctx, req)
			default:
				go w.handle(ctx, req)
			}
		}
	}()

	return nil
}

func (w *Worker) handle(ctx context.Context, req Request) {
	switch req.Type {
	case TypeWarmup:
		w.respond(req.ID, w.handleWarmup(ctx, req))
	case TypeInit:
		w.respond(req.ID, w.handleInit(ctx, req))
	case TypePredict:
		w.respond(req.ID, w.handlePredict(ctx, req))
	case TypePredictBatch:
		w.respond(req.ID, w.handlePredictBatch(ctx, req))
	case TypeIsReady:
		w.respond(req.ID, w.handleIsReady(req))
	case TypeAvailableModels:
		w.respond(req.ID, w.handleAvailableModels(req))
	case TypeClearPredictions:
		w.respond(req.ID, w.handleClearPredictions(ctx, req))
	case TypeClearModels:
		w.respond(req.ID, w.handleClearModels(ctx, req))
	case TypeModelCacheStats:
		w.respond(req.ID, w.handleModelCacheStats(ctx, req))
	default:
		perr := &ProtocolError{Type: req.Type, ID: req.ID}
		w.log.Warn("Worker", "unknown request type", map[string]interface{}{"error": perr.Error()})
		w.respond(req.ID, errorResponse(req.ID, perr.Error()))
	}
}

func (w *Worker) respond(id string, resp *Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[ERROR] Worker: encoding response %s: %v", id, err)
		return
	}
	if err := w.pubSub.Publish(TopicResponses, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		log.Printf("[ERROR] Worker: publishing response %s: %v", id, err)
	}
}

// --- lifecycle handlers ---

func (w *Worker) handleWarmup(ctx context.Context, req Request) *Response {
	doc, _, err := w.ensureSchema(ctx)
	if err != nil {
		w.log.Error("Worker", "warmup: schema load failed", map[string]interface{}{"error": err.Error()})
		return &Response{Type: resultType(TypeWarmup), ID: req.ID, Success: boolPtr(false), Message: err.Error()}
	}

	// Warm the heaviest model; the rest load on first demand.
	name := w.warmupModel
	if _, ok := doc.Models[name]; !ok {
		for _, candidate := range sortedModelNames(doc) {
			name = candidate
			break
		}
	}
	if _, err := w.ensureModel(ctx, name); err != nil {
		w.log.Error("Worker", "warmup: model load failed", map[string]interface{}{
			"model": name, "error": err.Error(),
		})
		return &Response{Type: resultType(TypeWarmup), ID: req.ID, Success: boolPtr(false), Message: err.Error()}
	}

	w.publishEvent(ctx, "inference.warmup_completed", map[string]interface{}{
		"model": name, "schemaVersion": doc.Version,
	})
	return &Response{Type: resultType(TypeWarmup), ID: req.ID, Success: boolPtr(true)}
}

func (w *Worker) handleInit(ctx context.Context, req Request) *Response {
	doc, _, err := w.ensureSchema(ctx)
	if err != nil {
		return &Response{Type: resultType(TypeInit), ID: req.ID, Success: boolPtr(false), Message: err.Error()}
	}

	var loaded []string
	for _, name := range sortedModelNames(doc) {
		if _, err := w.ensureModel(ctx, name); err != nil {
			w.log.Error("Worker", "init: model load failed", map[string]interface{}{
				"model": name, "error": err.Error(),
			})
			continue
		}
		loaded = append(loaded, name)
	}
	return &Response{
		Type:    resultType(TypeInit),
		ID:      req.ID,
		Success: boolPtr(len(loaded) == len(doc.Models)),
		Models:  loaded,
	}
}

func (w *Worker) handleIsReady(req Request) *Response {
	w.mu.Lock()
	ready := w.doc != nil && len(w.runners) > 0
	w.mu.Unlock()
	return &Response{Type: resultType(TypeIsReady), ID: req.ID, Ready: boolPtr(ready)}
}

func (w *Worker) handleAvailableModels(req Request) *Response {
	w.mu.Lock()
	names := make([]string, 0, len(w.runners))
	for name := range w.runners {
		names = append(names, name)
	}
	w.mu.Unlock()
	sort.Strings(names)
	return &Response{Type: resultType(TypeAvailableModels), ID: req.ID, Models: names}
}

func (w *Worker) handleClearPredictions(ctx context.Context, req Request) *Response {
	if err := w.preds.Clear(ctx); err != nil {
		return errorResponse(req.ID, err.Error())
	}
	w.publishEvent(ctx, "inference.predictions_cleared", nil)
	return &Response{Type: TypeAck, ID: req.ID}
}

func (w *Worker) handleClearModels(ctx context.Context, req Request) *Response {
	if err := w.models.Clear(ctx); err != nil {
		return errorResponse(req.ID, err.Error())
	}
	w.publishEvent(ctx, "inference.models_cleared", nil)
	return &Response{Type: TypeAck, ID: req.ID}
}

func (w *Worker) handleModelCacheStats(ctx context.Context, req Request) *Response {
	stats, err := w.models.Stats(ctx)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	out := &CacheStats{Models: stats, Count: len(stats)}
	for _, s := range stats {
		out.TotalSizeMB += s.SizeMB
	}
	return &Response{Type: resultType(TypeModelCacheStats), ID: req.ID, Stats: out}
}

// --- predict handlers ---

func (w *Worker) handlePredict(ctx context.Context, req Request) *Response {
	var data PredictData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return errorResponse(req.ID, "predict: bad payload: "+err.Error())
	}
	enriched, err := w.predictEntities(ctx, []entity.Entity{data.Entity})
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return &Response{Type: resultType(TypePredict), ID: req.ID, Entity: &enriched[0]}
}

func (w *Worker) handlePredictBatch(ctx context.Context, req Request) *Response {
	var data PredictBatchData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return errorResponse(req.ID, "predictBatch: bad payload: "+err.Error())
	}
	enriched, err := w.predictEntities(ctx, data.Entities)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return &Response{Type: resultType(TypePredictBatch), ID: req.ID, Entities: enriched}
}

// --- loading ---

// ensureSchema loads and validates the schema exactly once; concurrent
// callers share the in-flight load. A failed load is retried by the next
// caller.
func (w *Worker) ensureSchema(ctx context.Context) (*schema.Document, *encoder.Encoder, error) {
	w.mu.Lock()
	if w.doc != nil {
		doc, enc := w.doc, w.enc
		w.mu.Unlock()
		return doc, enc, nil
	}
	if w.schemaLoad != nil {
		call := w.schemaLoad
		w.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if call.err != nil {
			return nil, nil, call.err
		}
		w.mu.Lock()
		doc, enc := w.doc, w.enc
		w.mu.Unlock()
		return doc, enc, nil
	}
	call := &loadCall{done: make(chan struct{})}
	w.schemaLoad = call
	w.mu.Unlock()

	doc, err := w.loader.Load(ctx)
	w.mu.Lock()
	if err != nil {
		call.err = err
	} else {
		w.doc = doc
		w.enc = encoder.New(doc)
		w.preds.SetSchemaVersion(doc.Version)
	}
	w.schemaLoad = nil
	w.mu.Unlock()
	close(call.done)

	if err != nil {
		return nil, nil, err
	}
	w.log.Info("Worker", "schema loaded", map[string]interface{}{
		"version": doc.Version, "models": len(doc.Models), "columns": len(doc.FeatureColumns),
	})
	return doc, w.enc, nil
}

// ensureModel returns the serial runner for one model, creating the session
// on first need. Concurrent loads for the same model coalesce.
func (w *Worker) ensureModel(ctx context.Context, name string) (*modelRunner, error) {
	doc, _, err := w.ensureSchema(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := doc.Models[name]
	if !ok {
		return nil, &modelcache.FetchError{Name: name, Err: errUnknownModel}
	}

	for {
		w.mu.Lock()
		if runner, ok := w.runners[name]; ok {
			w.mu.Unlock()
			return runner, nil
		}
		if call, ok := w.loads[name]; ok {
			w.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if call.err != nil {
				return nil, call.err
			}
			continue // runner is registered now
		}
		call := &loadCall{done: make(chan struct{})}
		w.loads[name] = call
		w.mu.Unlock()

		runner, err := w.loadModel(ctx, name, m, doc.Version)
		w.mu.Lock()
		if err != nil {
			call.err = err
		} else {
			w.runners[name] = runner
		}
		delete(w.loads, name)
		w.mu.Unlock()
		close(call.done)

		if err != nil {
			return nil, err
		}
		return runner, nil
	}
}

var errUnknownModel = &schema.SchemaError{Reason: "model not in inventory"}

func (w *Worker) loadModel(ctx context.Context, name string, m *schema.Model, version string) (*modelRunner, error) {
	started := time.Now()
	modelBytes, err := w.models.Fetch(ctx, name, m.File, version)
	if err != nil {
		return nil, err
	}
	sess, err := w.rt.NewSession(m, modelBytes)
	if err != nil {
		return nil, err
	}
	w.log.Info("Worker", "session created", map[string]interface{}{
		"model": name, "tookMs": time.Since(started).Milliseconds(),
	})
	runner := newModelRunner(name, sess, &w.runCount)
	return runner, nil
}

// RunCount reports the total session.Run invocations, for diagnostics.
func (w *Worker) RunCount() int64 { return w.runCount.Load() }

// Close stops every model runner and releases its session.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, runner := range w.runners {
		runner.close()
		delete(w.runners, name)
	}
	return nil
}

func (w *Worker) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if w.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	evt := events.BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
	if err := w.bus.Publish(ctx, evt); err != nil {
		w.log.Warn("Worker", "event publish failed", map[string]interface{}{
			"event": eventType, "error": err.Error(),
		})
	}
}

func sortedModelNames(doc *schema.Document) []string {
	names := make([]string, 0, len(doc.Models))
	for name := range doc.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
