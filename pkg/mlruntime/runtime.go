package mlruntime

import (
	"fmt"

	"abilico-inference/pkg/schema"
)

// InferenceError wraps a crash inside a session run. It is scoped to one
// model: the affected facet is dropped, the batch completes.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference %s: %v", e.Model, e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// Matrix is a row-major batch of encoded feature vectors, the shape every
// model input tensor is built from.
type Matrix struct {
	Data []float32
	Rows int
	Cols int
}

// Row returns the i-th feature vector as a slice of the underlying buffer.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// RawOutputs are the per-row outputs of one run, normalized at the runtime
// boundary: labels are always int64 regardless of the tensor's width, and
// probabilities are nil when the model emitted none.
type RawOutputs struct {
	Labels        []int64
	Probabilities [][]float32
	Scalars       []float32
}

// Session is a runtime-bound handle to one loaded model. Run is synchronous
// and not re-entrant; callers serialize access per session.
type Session interface {
	Run(m Matrix) (*RawOutputs, error)
	Close() error
}

// Runtime creates sessions from compiled model bytes.
type Runtime interface {
	NewSession(model *schema.Model, data []byte) (Session, error)
	Close() error
}

// OutputNames resolves the tensor output names for a model: the schema's
// explicit list wins, otherwise the converter's conventional names.
func OutputNames(m *schema.Model) []string {
	if len(m.OutputNames) > 0 {
		return m.OutputNames
	}
	if m.Type == schema.TypeRegressor {
		return []string{"variable"}
	}
	return []string{"output_label", "output_probability"}
}
