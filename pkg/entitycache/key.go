package entitycache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"abilico-inference/pkg/entity"
)

// Fixed tag tuples hashed for entities without a stable identity. Order
// matters: the same entity must always hash identically.
var (
	roadKeyFields  = []string{"highway", "surface", "smoothness", "width", "incline", "name"}
	placeKeyFields = []string{"amenity", "shop", "name", "addr:street", "addr:housenumber"}
)

// Key derives the cache key for an entity: the caller-provided stable id
// wins, then a source-specific id tag, then a 64-bit content hash over the
// domain's fixed tag tuple. Keys are always domain-prefixed so road and place
// entries can never collide.
func Key(e entity.Entity) string {
	domain := e.Domain()
	if e.ID != "" {
		return fmt.Sprintf("%s_%s", domain, e.ID)
	}
	if id := e.Tag("osm_id"); id != "" {
		return fmt.Sprintf("%s_%s", domain, id)
	}
	if id := e.Tag("@id"); id != "" {
		return fmt.Sprintf("%s_%s", domain, id)
	}

	fields := placeKeyFields
	if domain == entity.DomainRoad {
		fields = roadKeyFields
	}
	h := xxhash.New()
	for _, f := range fields {
		h.WriteString(f)
		h.WriteString("=")
		h.WriteString(e.Tag(f))
		h.WriteString("|")
	}
	return fmt.Sprintf("%s_%016x", domain, h.Sum64())
}

// DomainOfKey recovers the domain prefix from a cache key.
func DomainOfKey(key string) entity.Domain {
	if len(key) >= 5 && key[:5] == "road_" {
		return entity.DomainRoad
	}
	return entity.DomainPlace
}
