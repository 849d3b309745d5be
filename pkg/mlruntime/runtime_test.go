package mlruntime

import (
	"reflect"
	"testing"

	"abilico-inference/pkg/schema"
)

func TestMatrixRow(t *testing.T) {
	m := Matrix{Data: []float32{1, 2, 3, 4, 5, 6}, Rows: 2, Cols: 3}

	if got := m.Row(0); !reflect.DeepEqual(got, []float32{1, 2, 3}) {
		t.Errorf("Row(0) = %v", got)
	}
	if got := m.Row(1); !reflect.DeepEqual(got, []float32{4, 5, 6}) {
		t.Errorf("Row(1) = %v", got)
	}
}

func TestOutputNames(t *testing.T) {
	tests := []struct {
		name  string
		model *schema.Model
		want  []string
	}{
		{
			"classifier defaults",
			&schema.Model{Type: schema.TypeClassifier},
			[]string{"output_label", "output_probability"},
		},
		{
			"regressor defaults",
			&schema.Model{Type: schema.TypeRegressor},
			[]string{"variable"},
		},
		{
			"explicit names win",
			&schema.Model{Type: schema.TypeClassifier, OutputNames: []string{"label", "probabilities"}},
			[]string{"label", "probabilities"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputNames(tt.model); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OutputNames = %v, want %v", got, tt.want)
			}
		})
	}
}
