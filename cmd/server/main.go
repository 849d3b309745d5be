package main

import (
	"context"
	"log"

	"abilico-inference/internal/bootstrap"
	"abilico-inference/internal/config"
	"abilico-inference/internal/server"
	"abilico-inference/internal/tracer"
)

func main() {
	// 0. Initialize Tracer
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(cfg)
	defer container.Close()

	// 3. Start Background Services
	ctx := context.Background()
	if err := container.Worker.Run(ctx); err != nil {
		log.Panicf("Unable to start inference worker: %v", err)
	}

	// Warm the schema and heaviest model off the request path.
	container.Orchestrator.WarmupOnce()

	// 4. Initialize Server
	srv := server.New(cfg, container)

	// 5. Run Server
	log.Fatal(srv.Run())
}
