package dto

import (
	"abilico-inference/internal/worker"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/postprocess"
)

type EnrichRequest struct {
	Entities []entity.Entity `json:"entities" validate:"required,min=1,max=10000"`
}

type EnrichResponse struct {
	Entities []postprocess.EnrichedEntity `json:"entities"`
	// Predicted counts entities that received at least one inferred facet.
	Predicted int `json:"predicted"`
	FromCache int `json:"from_cache"`
}

type WarmupResponse struct {
	Success bool `json:"success"`
}

type InitResponse struct {
	Success bool     `json:"success"`
	Models  []string `json:"models"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SetEnabledResponse struct {
	Enabled bool `json:"enabled"`
}

type ReadyResponse struct {
	Ready   bool `json:"ready"`
	Enabled bool `json:"enabled"`
}

type AvailableModelsResponse struct {
	Models []string `json:"models"`
}

type CacheStatsResponse struct {
	Stats *worker.CacheStats `json:"stats"`
	// MemoryEntries is the current size of the in-process prediction tier.
	MemoryEntries int `json:"memory_entries"`
}

type ViewportResponse struct {
	Entities []postprocess.EnrichedEntity `json:"entities"`
	Count    int                          `json:"count"`
}
