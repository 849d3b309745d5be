package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"abilico-inference/pkg/entity"
)

// SchemaError reports a malformed or missing schema document. It is raised at
// load time only; a loaded Document is immutable and always usable.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("schema: %s", e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Document is the typed, validated form of schema.json. It is parsed once per
// session and shared by reference between the encoder, the worker and the
// post-processor.
type Document struct {
	Version        string            `json:"version" validate:"required"`
	Models         map[string]*Model `json:"models" validate:"required,min=1"`
	FeatureColumns []string          `json:"feature_columns"`
	Labels         []string          `json:"labels"`
	Encoding       EncodingInfo      `json:"encoding_info"`
}

// Model describes one entry of the model inventory.
type Model struct {
	File           string             `json:"file" validate:"required"`
	InputName      string             `json:"input_name" validate:"required"`
	Type           string             `json:"type" validate:"required,oneof=classifier regressor"`
	Classes        []string           `json:"classes"`
	OutputUnit     string             `json:"output_unit"`
	Metrics        map[string]float64 `json:"metrics"`
	FeatureColumns []string           `json:"feature_columns"`
	Domain         entity.Domain      `json:"domain"`
	Attribute      string             `json:"attribute"`
	OutputNames    []string           `json:"output_names"`

	// StrictProbabilities makes a missing probabilities output an inference
	// error instead of falling back to a one-hot vector.
	StrictProbabilities bool `json:"strict_probabilities"`
}

type EncodingInfo struct {
	HasFeatures []HasFeature                 `json:"has_features"`
	Categorical map[string]map[string]string `json:"categorical_features"`
}

type HasFeature struct {
	Tag    string `json:"tag"`
	Column string `json:"column"`
}

const (
	TypeClassifier = "classifier"
	TypeRegressor  = "regressor"
)

var validate = validator.New()

// Validate checks the structural invariants once, at load time. After this
// returns nil the document never fails downstream.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return &SchemaError{Reason: "structural validation failed", Err: err}
	}
	if len(d.FeatureColumns) == 0 {
		// Single-model variants carry the columns on the model itself.
		for _, m := range d.Models {
			if len(m.FeatureColumns) > 0 {
				d.FeatureColumns = m.FeatureColumns
				break
			}
		}
	}
	if len(d.FeatureColumns) == 0 {
		return &SchemaError{Reason: "no feature columns"}
	}
	if len(d.Encoding.HasFeatures) == 0 && len(d.Encoding.Categorical) == 0 {
		return &SchemaError{Reason: "empty encoding rules"}
	}

	colSet := make(map[string]struct{}, len(d.FeatureColumns))
	for _, c := range d.FeatureColumns {
		if c == "" {
			return &SchemaError{Reason: "empty feature column name"}
		}
		if _, dup := colSet[c]; dup {
			return &SchemaError{Reason: fmt.Sprintf("duplicate feature column %q", c)}
		}
		colSet[c] = struct{}{}
	}
	for _, hf := range d.Encoding.HasFeatures {
		if _, ok := colSet[hf.Column]; !ok {
			return &SchemaError{Reason: fmt.Sprintf("has-feature column %q not in feature columns", hf.Column)}
		}
	}
	for category, values := range d.Encoding.Categorical {
		for _, col := range values {
			if _, ok := colSet[col]; !ok {
				return &SchemaError{Reason: fmt.Sprintf("categorical column %q (category %q) not in feature columns", col, category)}
			}
		}
	}

	for name, m := range d.Models {
		if m.Type == TypeClassifier {
			classes := m.ClassLabels(d)
			if len(classes) == 0 {
				return &SchemaError{Reason: fmt.Sprintf("classifier %q has no class labels", name)}
			}
			seen := make(map[string]struct{}, len(classes))
			for _, c := range classes {
				if _, dup := seen[c]; dup {
					return &SchemaError{Reason: fmt.Sprintf("classifier %q has duplicate class %q", name, c)}
				}
				seen[c] = struct{}{}
			}
		}
		if m.Type == TypeRegressor && m.OutputUnit == "" {
			return &SchemaError{Reason: fmt.Sprintf("regressor %q has no output unit", name)}
		}
		if m.Attribute == "" {
			m.Attribute = name
		}
		if m.Domain == "" {
			// The accessibility model predicts places; the road facets keep
			// their model name as the attribute.
			if name == "accessibility" {
				m.Domain = entity.DomainPlace
			} else {
				m.Domain = entity.DomainRoad
			}
		}
		if m.Domain != entity.DomainRoad && m.Domain != entity.DomainPlace {
			return &SchemaError{Reason: fmt.Sprintf("model %q has unknown domain %q", name, m.Domain)}
		}
		if len(m.FeatureColumns) > 0 && len(m.FeatureColumns) != len(d.FeatureColumns) {
			return &SchemaError{Reason: fmt.Sprintf("model %q feature columns disagree with schema columns", name)}
		}
	}
	return nil
}

// ClassLabels resolves the label list for a classifier: per-model classes win,
// the document-level labels are the single-model fallback.
func (m *Model) ClassLabels(d *Document) []string {
	if len(m.Classes) > 0 {
		return m.Classes
	}
	return d.Labels
}

// ModelsFor lists the model names applicable to one entity domain, in a
// stable order.
func (d *Document) ModelsFor(domain entity.Domain) []string {
	var names []string
	for _, name := range modelOrder {
		if m, ok := d.Models[name]; ok && m.Domain == domain {
			names = append(names, name)
		}
	}
	for name, m := range d.Models {
		if m.Domain != domain {
			continue
		}
		if !containsString(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// modelOrder keeps facet iteration deterministic for the well-known models.
var modelOrder = []string{"surface", "smoothness", "width", "incline", "accessibility"}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
