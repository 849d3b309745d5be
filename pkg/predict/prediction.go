package predict

import (
	"fmt"
	"sort"

	"abilico-inference/pkg/encoder"
)

// Tier is the discretized classifier certainty.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// TierFor buckets a chosen-class probability. A probability of exactly 0.5
// reads as medium.
func TierFor(p float32) Tier {
	switch {
	case p > 0.85:
		return TierHigh
	case p > 0.35:
		return TierMedium
	}
	return TierLow
}

const (
	KindClassifier = "classifier"
	KindRegressor  = "regressor"
)

// Alternative is one ranked runner-up label.
type Alternative struct {
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// Prediction is the immutable record produced by one inference call for one
// facet of one entity.
type Prediction struct {
	Attribute     string                `json:"attribute"`
	Kind          string                `json:"kind"` // classifier | regressor
	Label         string                `json:"label,omitempty"`
	Probability   float32               `json:"probability,omitempty"`
	Tier          Tier                  `json:"tier,omitempty"`
	Probabilities map[string]float32    `json:"probabilities,omitempty"`
	Alternatives  []Alternative         `json:"alternatives,omitempty"`
	Scalar        float32               `json:"scalar,omitempty"`
	Unit          string                `json:"unit,omitempty"`
	Contributors  []encoder.Contributor `json:"contributors,omitempty"`
	Metrics       map[string]float64    `json:"metrics,omitempty"`

	// FromCache is set when the record was served from a cache tier rather
	// than computed. It is the only mutable-looking field and is never
	// persisted as true.
	FromCache bool `json:"fromCache,omitempty"`
}

const (
	// minAlternativeProb filters noise out of the alternatives list.
	minAlternativeProb = 0.05
	maxAlternatives    = 3
)

// FromClassifier assembles a classifier prediction from normalized runtime
// outputs. probs may be nil when the model only emitted a label; unless
// strict is set, a one-hot vector is synthesized in that case.
func FromClassifier(attr string, classes []string, label int64, probs []float32, strict bool) (*Prediction, error) {
	if probs == nil {
		if strict {
			return nil, fmt.Errorf("classifier %s: probabilities output missing", attr)
		}
		probs = make([]float32, len(classes))
		if label < 0 || int(label) >= len(classes) {
			return nil, fmt.Errorf("classifier %s: label index %d out of range", attr, label)
		}
		probs[label] = 1
	}
	if len(probs) != len(classes) {
		return nil, fmt.Errorf("classifier %s: %d probabilities for %d classes", attr, len(probs), len(classes))
	}

	// Argmax determines the chosen label.
	chosen := 0
	for i, p := range probs {
		if p > probs[chosen] {
			chosen = i
		}
	}

	byLabel := make(map[string]float32, len(classes))
	for i, c := range classes {
		byLabel[c] = probs[i]
	}

	return &Prediction{
		Attribute:     attr,
		Kind:          KindClassifier,
		Label:         classes[chosen],
		Probability:   probs[chosen],
		Tier:          TierFor(probs[chosen]),
		Probabilities: byLabel,
		Alternatives:  rankAlternatives(classes, probs, chosen),
	}, nil
}

// FromRegressor assembles a regressor prediction. Confidence tiers are not
// defined for regressors.
func FromRegressor(attr, unit string, value float32) *Prediction {
	return &Prediction{
		Attribute: attr,
		Kind:      KindRegressor,
		Scalar:    value,
		Unit:      unit,
	}
}

func rankAlternatives(classes []string, probs []float32, chosen int) []Alternative {
	var alts []Alternative
	for i, p := range probs {
		if i == chosen || p < minAlternativeProb {
			continue
		}
		alts = append(alts, Alternative{Label: classes[i], Probability: p})
	}
	sort.SliceStable(alts, func(i, j int) bool { return alts[i].Probability > alts[j].Probability })
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	return alts
}
