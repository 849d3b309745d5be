package entity

// Domain separates the two classes of predictable entities. Road segments and
// places use different models, different cache capacities and disjoint cache
// key prefixes.
type Domain string

const (
	DomainRoad  Domain = "road"
	DomainPlace Domain = "place"
)

// Entity is one observed map feature: an unordered tag bag plus an optional
// stable identity (OSM-style "way/123"). The tag bag is immutable within one
// prediction request.
type Entity struct {
	ID   string            `json:"id,omitempty"`
	Tags map[string]string `json:"tags"`
}

// Domain classifies the entity. Anything carrying a highway tag is a road
// segment, everything else is a place.
func (e Entity) Domain() Domain {
	if v, ok := e.Tags["highway"]; ok && v != "" {
		return DomainRoad
	}
	return DomainPlace
}

// Tag returns the value for key, tolerating the "tags." prefix some feeds use.
func (e Entity) Tag(key string) string {
	if v, ok := e.Tags[key]; ok {
		return v
	}
	return e.Tags["tags."+key]
}
