package bootstrap

import (
	"context"
	"log"
	"time"

	"abilico-inference/internal/config"
	"abilico-inference/internal/controller"
	"abilico-inference/internal/pkg/logger"
	"abilico-inference/internal/service"
	"abilico-inference/internal/websocket"
	"abilico-inference/internal/worker"
	"abilico-inference/pkg/entitycache"
	"abilico-inference/pkg/events"
	"abilico-inference/pkg/feed"
	"abilico-inference/pkg/mlruntime/ort"
	"abilico-inference/pkg/modelcache"
	"abilico-inference/pkg/natsbus"
	"abilico-inference/pkg/schema"
	"abilico-inference/pkg/store"
	boltstore "abilico-inference/pkg/store/bolt"
	redisstore "abilico-inference/pkg/store/redis"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	InferenceController controller.IInferenceController

	// Background services (exposed for main.go to run)
	Worker       *worker.Worker
	Orchestrator service.IOrchestratorService

	// WebSockets
	WebSocketHub *websocket.Hub

	// Held for shutdown
	closers []func() error
}

func NewContainer(cfg *config.Config) *Container {
	c := &Container{}

	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Persistent stores. Model artifacts always live in bolt; the
	// prediction tier can be switched to Redis for shared deployments.
	boltDB, err := boltstore.Open(cfg.Store.BoltPath, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to open bolt store: %v", err)
	}
	c.closers = append(c.closers, boltDB.Close)

	var predStore store.PredictionStore
	if cfg.Store.Backend == "redis" {
		opt, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.Store.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		rstore := redisstore.New(rdb, sysLogger)
		c.closers = append(c.closers, rstore.Close)
		predStore = rstore
		log.Printf("[INFO] Using prediction store: REDIS")
	} else {
		predStore = boltDB.Predictions()
		log.Printf("[INFO] Using prediction store: BOLT (%s)", cfg.Store.BoltPath)
	}

	// 4. Caches
	predCache, err := entitycache.New(predStore, cfg.Cache.RoadCapacity, cfg.Cache.PlaceCapacity, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to build prediction cache: %v", err)
	}
	modelCache := modelcache.New(boltDB.Models(), cfg.Models.BaseURL, sysLogger)

	// 5. Inference runtime
	runtime, err := ort.New(cfg.Models.OnnxLibPath)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize ONNX runtime: %v", err)
	}
	c.closers = append(c.closers, runtime.Close)

	// 6. NATS lifecycle events (optional)
	var natsPub events.Publisher
	if cfg.App.NatsURL != "" {
		pub, err := natsbus.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			natsPub = pub
			c.closers = append(c.closers, pub.Close)
		}

		sub, err := natsbus.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			c.closers = append(c.closers, func() error {
				sub.Close()
				return nil
			})
			// A sibling instance clearing the shared store invalidates our
			// memory tier.
			err := sub.Subscribe("inference.predictions_cleared", "abilico-pred-clear", func(ctx context.Context, event events.Event) error {
				predCache.DropMemory()
				return nil
			})
			if err != nil {
				log.Printf("[WARN] Failed to subscribe to clear events: %v", err)
			}
		}
	}

	// 7. Worker
	c.Worker = worker.New(pubSub, worker.Options{
		Loader:          schema.NewLoader(cfg.Models.BaseURL),
		ModelCache:      modelCache,
		PredictionCache: predCache,
		Runtime:         runtime,
		Events:          natsPub,
		Logger:          sysLogger,
		WarmupModel:     cfg.Models.WarmupModel,
		SubBatchSize:    cfg.Cache.SubBatchSize,
	})
	c.closers = append(c.closers, c.Worker.Close)

	// 8. Orchestrator
	orchestrator, err := service.NewOrchestratorService(pubSub, predCache, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to build orchestrator: %v", err)
	}
	orchestrator.SetEnabled(cfg.App.Enabled)
	c.Orchestrator = orchestrator

	// 9. Viewport feed + WebSocket hub
	fetcher := feed.NewFetcher(cfg.Feed.OverpassURL, time.Duration(cfg.Feed.TimeoutSeconds)*time.Second)
	viewportService := service.NewViewportService(fetcher, orchestrator)
	c.WebSocketHub = websocket.NewHub(viewportService, orchestrator, sysLogger)
	go c.WebSocketHub.Run()

	// 10. Controllers
	c.InferenceController = controller.NewInferenceController(orchestrator, viewportService)

	return c
}

// Close releases every held resource in reverse construction order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("[WARN] Shutdown: %v", err)
		}
	}
}
