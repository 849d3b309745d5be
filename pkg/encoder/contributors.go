package encoder

import (
	"fmt"
	"sort"
	"strings"
)

// Contributor is one non-zero input feature, described for explainability.
type Contributor struct {
	Column      string `json:"column"`
	Description string `json:"description"`
}

// maxContributors bounds the explanation list per prediction.
const maxContributors = 5

// categoryPrefixes maps well-known one-hot column prefixes to their
// human-readable category name.
var categoryPrefixes = []struct {
	prefix string
	label  string
}{
	{"hw_", "Highway type"},
	{"surf_", "Surface"},
	{"smooth_", "Smoothness"},
	{"smoothness_", "Smoothness"},
	{"highway_", "Highway type"},
	{"surface_", "Surface"},
	{"amenity_", "Amenity"},
	{"shop_", "Shop"},
}

// Contributors lists the non-zero columns of an encoded vector, described and
// ranked by facet priority, truncated to five.
func (e *Encoder) Contributors(vec []float32) []Contributor {
	type ranked struct {
		c        Contributor
		priority int
		index    int
	}
	var out []ranked
	for i, v := range vec {
		if v == 0 {
			continue
		}
		col := e.columns[i]
		out = append(out, ranked{
			c:        Contributor{Column: col, Description: describeColumn(col, v)},
			priority: columnPriority(col),
			index:    i,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].index < out[j].index
	})
	if len(out) > maxContributors {
		out = out[:maxContributors]
	}
	contributors := make([]Contributor, len(out))
	for i, r := range out {
		contributors[i] = r.c
	}
	return contributors
}

func describeColumn(col string, v float32) string {
	switch {
	case col == "width_m":
		return fmt.Sprintf("Width: %.1f m", v)
	case col == "incline_pct":
		return fmt.Sprintf("Incline: %.1f%%", v)
	case strings.HasSuffix(col, "_numeric"):
		return fmt.Sprintf("%s: %g", titleize(strings.TrimSuffix(col, "_numeric")), v)
	case strings.HasSuffix(col, "_binary"):
		base := titleize(strings.TrimSuffix(col, "_binary"))
		if v < 0 {
			return fmt.Sprintf("%s: unknown", base)
		}
		return fmt.Sprintf("%s: yes", base)
	case strings.HasPrefix(col, "has_"):
		return fmt.Sprintf("Has %s", strings.ReplaceAll(strings.TrimPrefix(col, "has_"), "_", " "))
	}
	for _, cp := range categoryPrefixes {
		if strings.HasPrefix(col, cp.prefix) {
			return fmt.Sprintf("%s: %s", cp.label, titleize(strings.TrimPrefix(col, cp.prefix)))
		}
	}
	// Generic one-hot: "category_value".
	if i := strings.IndexByte(col, '_'); i > 0 {
		return fmt.Sprintf("%s: %s", titleize(col[:i]), titleize(col[i+1:]))
	}
	return titleize(col)
}

// columnPriority orders contributors: highway < surface < smoothness < width
// < incline < everything else.
func columnPriority(col string) int {
	switch {
	case strings.HasPrefix(col, "hw_") || strings.HasPrefix(col, "highway"):
		return 0
	case strings.HasPrefix(col, "surf_") || strings.HasPrefix(col, "surface"):
		return 1
	case strings.HasPrefix(col, "smooth"):
		return 2
	case strings.HasPrefix(col, "width"):
		return 3
	case strings.HasPrefix(col, "incline"):
		return 4
	}
	return 5
}

func titleize(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
