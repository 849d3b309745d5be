package encoder

import (
	"sort"
	"strconv"
	"strings"

	"abilico-inference/pkg/schema"
)

// Encoder turns a sparse tag bag into the dense float vector the models were
// trained on. Construction derives every rule from the schema once; encoding
// itself never fails, unknown inputs are absorbed as zeros.
type Encoder struct {
	columns []string
	index   map[string]int
	has     []hasRule
	cat     map[string]map[string]string
	numeric []numericRule
}

type hasRule struct {
	tag    string
	column string
	binary bool
}

type numericRule struct {
	tag    string
	column string
	kind   numericKind
}

type numericKind int

const (
	numericPlain numericKind = iota
	numericWidth
	numericIncline
)

// truncateLen is the training-time truncation threshold for categorical
// values.
const truncateLen = 20

func New(doc *schema.Document) *Encoder {
	e := &Encoder{
		columns: doc.FeatureColumns,
		index:   make(map[string]int, len(doc.FeatureColumns)),
		cat:     make(map[string]map[string]string, len(doc.Encoding.Categorical)),
	}
	for i, col := range doc.FeatureColumns {
		e.index[col] = i
	}

	for _, hf := range doc.Encoding.HasFeatures {
		e.has = append(e.has, hasRule{
			tag:    normalizeKey(hf.Tag),
			column: hf.Column,
			binary: strings.HasSuffix(hf.Column, "_binary"),
		})
	}
	for category, values := range doc.Encoding.Categorical {
		e.cat[normalizeKey(category)] = values
	}

	// Numeric slots are identified by column-name convention.
	for _, col := range doc.FeatureColumns {
		switch {
		case col == "width_m":
			e.numeric = append(e.numeric, numericRule{tag: "width", column: col, kind: numericWidth})
		case col == "incline_pct":
			e.numeric = append(e.numeric, numericRule{tag: "incline", column: col, kind: numericIncline})
		case strings.HasSuffix(col, "_numeric"):
			e.numeric = append(e.numeric, numericRule{tag: strings.TrimSuffix(col, "_numeric"), column: col, kind: numericPlain})
		}
	}
	sort.Slice(e.numeric, func(i, j int) bool { return e.numeric[i].column < e.numeric[j].column })

	return e
}

// Columns returns the ordered feature column names.
func (e *Encoder) Columns() []string { return e.columns }

// Encode produces a vector of length len(Columns()). Deterministic: the same
// tag bag yields a byte-identical vector regardless of map ordering.
func (e *Encoder) Encode(tags map[string]string) []float32 {
	vec := make([]float32, len(e.columns))
	norm := normalizeTags(tags)

	for _, rule := range e.has {
		raw, ok := norm[rule.tag]
		if !ok || raw == "" {
			continue
		}
		idx, ok := e.index[rule.column]
		if !ok {
			continue
		}
		switch boolish(raw) {
		case boolYes:
			vec[idx] = 1
		case boolNo:
			vec[idx] = 0
		default:
			if rule.binary {
				vec[idx] = -1
			} else {
				vec[idx] = 1
			}
		}
	}

	for category, values := range e.cat {
		raw, ok := norm[category]
		if !ok || raw == "" {
			continue
		}
		val := normalizeValue(raw)
		col, ok := values[val]
		if !ok && len(val) > truncateLen {
			col, ok = values[val[:truncateLen]]
		}
		if !ok {
			continue // unknown values contribute nothing
		}
		if idx, found := e.index[col]; found {
			vec[idx] = 1
		}
	}

	for _, rule := range e.numeric {
		raw, ok := norm[rule.tag]
		if !ok || raw == "" {
			continue
		}
		idx, found := e.index[rule.column]
		if !found {
			continue
		}
		switch rule.kind {
		case numericWidth:
			vec[idx] = ParseWidth(raw)
		case numericIncline:
			vec[idx] = ParseIncline(raw)
		default:
			if f, err := strconv.ParseFloat(raw, 32); err == nil {
				vec[idx] = float32(f)
			}
		}
	}

	return vec
}

// EncodeBatch encodes each tag bag and flattens the rows into one row-major
// buffer, ready to become a single input tensor.
func (e *Encoder) EncodeBatch(tagBags []map[string]string) ([]float32, int) {
	cols := len(e.columns)
	data := make([]float32, 0, len(tagBags)*cols)
	for _, tags := range tagBags {
		data = append(data, e.Encode(tags)...)
	}
	return data, len(tagBags)
}

type boolValue int

const (
	boolOther boolValue = iota
	boolYes
	boolNo
)

func boolish(v string) boolValue {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return boolYes
	case "no", "false", "0":
		return boolNo
	}
	return boolOther
}

// normalizeTags strips the optional "tags." key prefix and reduces
// multi-values to their first entry.
func normalizeTags(tags map[string]string) map[string]string {
	norm := make(map[string]string, len(tags))
	for k, v := range tags {
		key := normalizeKey(k)
		if _, exists := norm[key]; exists && strings.HasPrefix(k, "tags.") {
			// A bare key wins over its prefixed twin.
			continue
		}
		norm[key] = firstValue(v)
	}
	return norm
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "tags.")
}

// normalizeValue converts spaces and hyphens to underscores before the
// categorical lookup, matching the training-time cleanup.
func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	return v
}

func firstValue(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
