package ort

import (
	"fmt"
	"sync"

	onnx "github.com/yalue/onnxruntime_go"

	"abilico-inference/pkg/mlruntime"
	"abilico-inference/pkg/schema"
)

var initOnce sync.Once

// Runtime is the ONNX Runtime backend. The shared library environment is
// initialized once per process.
type Runtime struct{}

func New(libraryPath string) (*Runtime, error) {
	var initErr error
	initOnce.Do(func() {
		if libraryPath != "" {
			onnx.SetSharedLibraryPath(libraryPath)
		}
		initErr = onnx.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", initErr)
	}
	if !onnx.IsInitialized() {
		return nil, fmt.Errorf("onnxruntime environment not initialized")
	}
	return &Runtime{}, nil
}

func (r *Runtime) Close() error {
	return onnx.DestroyEnvironment()
}

func (r *Runtime) NewSession(model *schema.Model, data []byte) (mlruntime.Session, error) {
	outNames := mlruntime.OutputNames(model)
	s, err := onnx.NewDynamicAdvancedSessionWithONNXData(
		data,
		[]string{model.InputName},
		outNames,
		nil,
	)
	if err != nil {
		return nil, &mlruntime.InferenceError{Model: model.Attribute, Err: err}
	}
	return &session{sess: s, model: model, outNames: outNames}, nil
}

type session struct {
	sess     *onnx.DynamicAdvancedSession
	model    *schema.Model
	outNames []string
}

func (s *session) Run(mat mlruntime.Matrix) (*mlruntime.RawOutputs, error) {
	input, err := onnx.NewTensor(onnx.NewShape(int64(mat.Rows), int64(mat.Cols)), mat.Data)
	if err != nil {
		return nil, &mlruntime.InferenceError{Model: s.model.Attribute, Err: err}
	}
	defer input.Destroy()

	// nil slots let the runtime allocate the output tensors.
	outputs := make([]onnx.Value, len(s.outNames))
	if err := s.sess.Run([]onnx.Value{input}, outputs); err != nil {
		return nil, &mlruntime.InferenceError{Model: s.model.Attribute, Err: err}
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	raw := &mlruntime.RawOutputs{}
	for _, out := range outputs {
		if out == nil {
			continue
		}
		switch t := out.(type) {
		case *onnx.Tensor[int64]:
			raw.Labels = append([]int64(nil), t.GetData()...)
		case *onnx.Tensor[int32]:
			// Some converters emit 32-bit labels; normalize here.
			data := t.GetData()
			labels := make([]int64, len(data))
			for i, v := range data {
				labels[i] = int64(v)
			}
			raw.Labels = labels
		case *onnx.Tensor[float32]:
			if s.model.Type == schema.TypeRegressor {
				raw.Scalars = append([]float32(nil), t.GetData()...)
				continue
			}
			raw.Probabilities = reshapeRows(t.GetData(), mat.Rows)
		default:
			return nil, &mlruntime.InferenceError{
				Model: s.model.Attribute,
				Err:   fmt.Errorf("unexpected output tensor type %T", out),
			}
		}
	}
	return raw, nil
}

func (s *session) Close() error {
	return s.sess.Destroy()
}

func reshapeRows(flat []float32, rows int) [][]float32 {
	if rows <= 0 || len(flat)%rows != 0 {
		return nil
	}
	cols := len(flat) / rows
	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out
}
