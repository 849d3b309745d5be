package postprocess

import (
	"strconv"
	"strings"

	"abilico-inference/pkg/encoder"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/predict"
)

// EnrichedEntity is an entity with predictions layered over its observed
// tags. Observed values always win; predicted values are marked per facet so
// the UI can distinguish them.
type EnrichedEntity struct {
	ID             string            `json:"id,omitempty"`
	Tags           map[string]string `json:"tags"`
	Facets         map[string]Facet  `json:"predicted,omitempty"`
	HasPredictions bool              `json:"hasPredictions"`
	FromCache      bool              `json:"fromCache,omitempty"`
}

// Facet carries everything the UI needs about one predicted attribute.
type Facet struct {
	Predicted    bool                  `json:"predicted"`
	Confidence   float32               `json:"confidence,omitempty"`
	Tier         predict.Tier          `json:"tier,omitempty"`
	Alternatives []predict.Alternative `json:"alternatives,omitempty"`
	Contributors []encoder.Contributor `json:"contributors,omitempty"`
	Metrics      map[string]float64    `json:"metrics,omitempty"`
	Unit         string                `json:"unit,omitempty"`
}

// Apply merges a prediction set onto an entity. For every facet whose tag
// already carries an observed non-empty value the prediction is discarded and
// no marker is recorded.
func Apply(e entity.Entity, preds map[string]*predict.Prediction, fromCache bool) EnrichedEntity {
	tags := make(map[string]string, len(e.Tags)+len(preds))
	for k, v := range e.Tags {
		tags[k] = v
	}

	out := EnrichedEntity{ID: e.ID, Tags: tags}
	for attr, p := range preds {
		if p == nil {
			continue
		}
		if observed := e.Tag(attr); observed != "" {
			continue
		}
		if p.Kind == predict.KindClassifier {
			tags[attr] = p.Label
		} else {
			tags[attr] = formatScalar(p.Scalar)
		}
		if out.Facets == nil {
			out.Facets = make(map[string]Facet, len(preds))
		}
		out.Facets[attr] = Facet{
			Predicted:    true,
			Confidence:   p.Probability,
			Tier:         p.Tier,
			Alternatives: p.Alternatives,
			Contributors: p.Contributors,
			Metrics:      p.Metrics,
			Unit:         p.Unit,
		}
		out.HasPredictions = true
	}
	if out.HasPredictions {
		out.FromCache = fromCache
	}
	return out
}

// Identity wraps an entity unchanged, for the disabled path.
func Identity(e entity.Entity) EnrichedEntity {
	return EnrichedEntity{ID: e.ID, Tags: e.Tags}
}

func formatScalar(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', 2, 32)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
