package service

import (
	"context"

	"abilico-inference/internal/dto"
	"abilico-inference/pkg/feed"
)

// IViewportService fetches the live entities of a map viewport and runs them
// through the enrichment pipeline in one step.
type IViewportService interface {
	Snapshot(ctx context.Context, bbox feed.Bbox) (*dto.ViewportResponse, error)
}

type viewportService struct {
	fetcher      *feed.Fetcher
	orchestrator IOrchestratorService
}

func NewViewportService(fetcher *feed.Fetcher, orchestrator IOrchestratorService) IViewportService {
	return &viewportService{fetcher: fetcher, orchestrator: orchestrator}
}

func (s *viewportService) Snapshot(ctx context.Context, bbox feed.Bbox) (*dto.ViewportResponse, error) {
	entities, err := s.fetcher.FetchViewport(ctx, bbox)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return &dto.ViewportResponse{}, nil
	}
	enriched, err := s.orchestrator.Enrich(ctx, entities)
	if err != nil {
		return nil, err
	}
	return &dto.ViewportResponse{Entities: enriched.Entities, Count: len(enriched.Entities)}, nil
}
