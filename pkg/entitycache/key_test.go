package entitycache

import (
	"fmt"
	"strings"
	"testing"

	"abilico-inference/pkg/entity"
)

func TestKeyStableID(t *testing.T) {
	e := entity.Entity{ID: "way/123", Tags: map[string]string{"highway": "footway"}}
	if got := Key(e); got != "road_way/123" {
		t.Errorf("Key = %s, want road_way/123", got)
	}
}

func TestKeyDomainPrefix(t *testing.T) {
	road := entity.Entity{Tags: map[string]string{"highway": "path"}}
	place := entity.Entity{Tags: map[string]string{"amenity": "cafe"}}

	if k := Key(road); !strings.HasPrefix(k, "road_") {
		t.Errorf("road key %s lacks road_ prefix", k)
	}
	if k := Key(place); !strings.HasPrefix(k, "place_") {
		t.Errorf("place key %s lacks place_ prefix", k)
	}
}

func TestKeyIDTagFallbacks(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"osm_id tag", map[string]string{"amenity": "cafe", "osm_id": "42"}, "place_42"},
		{"at-id tag", map[string]string{"amenity": "cafe", "@id": "node/9"}, "place_node/9"},
		{"prefixed osm_id", map[string]string{"amenity": "cafe", "tags.osm_id": "7"}, "place_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(entity.Entity{Tags: tt.tags}); got != tt.want {
				t.Errorf("Key = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKeyContentHashDeterministic(t *testing.T) {
	tags := map[string]string{
		"highway":    "footway",
		"surface":    "asphalt",
		"smoothness": "good",
		"name":       "Main Path",
	}
	a := Key(entity.Entity{Tags: tags})
	b := Key(entity.Entity{Tags: tags})
	if a != b {
		t.Errorf("same tags hashed to %s and %s", a, b)
	}
}

func TestKeyContentHashDistinguishes(t *testing.T) {
	a := Key(entity.Entity{Tags: map[string]string{"highway": "footway", "surface": "asphalt"}})
	b := Key(entity.Entity{Tags: map[string]string{"highway": "footway", "surface": "gravel"}})
	if a == b {
		t.Errorf("different surfaces produced the same key %s", a)
	}
}

func TestKeyIgnoresNonTupleTags(t *testing.T) {
	a := Key(entity.Entity{Tags: map[string]string{"highway": "footway", "lit": "yes"}})
	b := Key(entity.Entity{Tags: map[string]string{"highway": "footway", "lit": "no"}})
	if a != b {
		t.Errorf("non-tuple tag changed the key: %s vs %s", a, b)
	}
}

// TestKeyCollisionRate hashes a million distinct road tuples and allows at
// most one collision, the budget the 64-bit hash was chosen for.
func TestKeyCollisionRate(t *testing.T) {
	if testing.Short() {
		t.Skip("million-entity corpus")
	}

	const n = 1_000_000
	surfaces := []string{"asphalt", "gravel", "paving_stones", "dirt", "concrete"}
	seen := make(map[string]struct{}, n)
	collisions := 0
	for i := 0; i < n; i++ {
		key := Key(entity.Entity{Tags: map[string]string{
			"highway": "footway",
			"surface": surfaces[i%len(surfaces)],
			"name":    fmt.Sprintf("path %d", i),
		}})
		if _, dup := seen[key]; dup {
			collisions++
		}
		seen[key] = struct{}{}
	}
	if collisions > 1 {
		t.Errorf("%d collisions over %d distinct tuples", collisions, n)
	}
}

func TestDomainOfKey(t *testing.T) {
	if DomainOfKey("road_abc") != entity.DomainRoad {
		t.Error("road_ prefix not recognized")
	}
	if DomainOfKey("place_abc") != entity.DomainPlace {
		t.Error("place_ prefix not recognized")
	}
}
