package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"abilico-inference/pkg/entity"
)

// FeedError reports a failed viewport fetch.
type FeedError struct {
	Bbox string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed: bbox %s: %v", e.Bbox, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// Bbox is a viewport in Overpass order: south, west, north, east.
type Bbox struct {
	South, West, North, East float64
}

// ParseBbox reads the "south,west,north,east" query parameter form.
func ParseBbox(s string) (Bbox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bbox{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bbox{}, fmt.Errorf("bbox component %d: %w", i, err)
		}
		vals[i] = v
	}
	b := Bbox{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	if b.South >= b.North || b.West >= b.East {
		return Bbox{}, fmt.Errorf("bbox is empty or inverted")
	}
	return b, nil
}

func (b Bbox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.South, b.West, b.North, b.East)
}

// Fetcher pulls the raw map entities of a viewport from an Overpass
// endpoint. It feeds the enrichment pipeline with exactly the tag bags the
// encoder expects.
type Fetcher struct {
	client overpass.Client
}

func NewFetcher(endpoint string, timeout time.Duration) *Fetcher {
	httpClient := &http.Client{Timeout: timeout}
	return &Fetcher{client: overpass.NewWithSettings(endpoint, 2, httpClient)}
}

// FetchViewport returns the footways and wheelchair-relevant places inside
// one bbox.
func (f *Fetcher) FetchViewport(ctx context.Context, bbox Bbox) ([]entity.Entity, error) {
	box := bbox.String()
	query := fmt.Sprintf(`
		[out:json];
		(
			way["highway"](%s);
			node["amenity"](%s);
			node["shop"](%s);
			way["amenity"](%s);
			way["shop"](%s);
		);
		out body;
		>;
		out skel qt;
	`, box, box, box, box, box)

	result, err := f.client.Query(query)
	if err != nil {
		return nil, &FeedError{Bbox: box, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &FeedError{Bbox: box, Err: err}
	}
	return convertResult(&result), nil
}

func convertResult(result *overpass.Result) []entity.Entity {
	var out []entity.Entity
	for _, node := range result.Nodes {
		if len(node.Tags) == 0 {
			continue // skeleton nodes carry geometry only
		}
		out = append(out, entity.Entity{
			ID:   fmt.Sprintf("node/%d", node.ID),
			Tags: copyTags(node.Tags),
		})
	}
	for _, way := range result.Ways {
		if len(way.Tags) == 0 {
			continue
		}
		out = append(out, entity.Entity{
			ID:   fmt.Sprintf("way/%d", way.ID),
			Tags: copyTags(way.Tags),
		})
	}
	return out
}

func copyTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}
