package main

import (
	"context"
	"flag"
	"log"
	"time"

	"abilico-inference/internal/bootstrap"
	"abilico-inference/internal/config"
	"abilico-inference/pkg/feed"
)

// Precache warms the prediction store for one map area ahead of time, so the
// first users panning into it get cache hits instead of cold inference.
func main() {
	bboxFlag := flag.String("bbox", "", "viewport to precache, as south,west,north,east")
	timeoutFlag := flag.Duration("timeout", 10*time.Minute, "overall time budget")
	flag.Parse()

	if *bboxFlag == "" {
		log.Fatal("usage: precache -bbox south,west,north,east")
	}
	bbox, err := feed.ParseBbox(*bboxFlag)
	if err != nil {
		log.Fatalf("Bad bbox: %v", err)
	}

	cfg := config.Load()
	container := bootstrap.NewContainer(cfg)
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	if err := container.Worker.Run(ctx); err != nil {
		log.Fatalf("Unable to start inference worker: %v", err)
	}
	// Pull every model into the artifact cache before touching entities.
	initRes, err := container.Orchestrator.Init(ctx)
	if err != nil {
		log.Fatalf("Model init failed: %v", err)
	}
	log.Printf("[INFO] Precache: %d models loaded", len(initRes.Models))

	fetcher := feed.NewFetcher(cfg.Feed.OverpassURL, time.Duration(cfg.Feed.TimeoutSeconds)*time.Second)
	entities, err := fetcher.FetchViewport(ctx, bbox)
	if err != nil {
		log.Fatalf("Viewport fetch failed: %v", err)
	}
	log.Printf("[INFO] Precache: fetched %d entities for %s", len(entities), bbox.String())

	res, err := container.Orchestrator.Enrich(ctx, entities)
	if err != nil {
		log.Fatalf("Enrichment failed: %v", err)
	}

	// The worker commits cache entries asynchronously after responding.
	time.Sleep(2 * time.Second)
	log.Printf("[INFO] Precache: done, %d predicted, %d already cached", res.Predicted, res.FromCache)
}
