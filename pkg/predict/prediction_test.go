package predict

import (
	"testing"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name string
		p    float32
		want Tier
	}{
		{"certain", 0.99, TierHigh},
		{"just above high cut", 0.851, TierHigh},
		{"exactly high cut", 0.85, TierMedium},
		{"coin flip", 0.5, TierMedium},
		{"just above medium cut", 0.351, TierMedium},
		{"exactly medium cut", 0.35, TierLow},
		{"hopeless", 0.1, TierLow},
		{"zero", 0, TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TierFor(tt.p); got != tt.want {
				t.Errorf("TierFor(%v) = %s, want %s", tt.p, got, tt.want)
			}
		})
	}
}

func TestFromClassifier(t *testing.T) {
	classes := []string{"not_accessible", "accessible", "limited"}

	t.Run("argmax wins regardless of label", func(t *testing.T) {
		p, err := FromClassifier("accessibility", classes, 0, []float32{0.1, 0.82, 0.08}, false)
		if err != nil {
			t.Fatal(err)
		}
		if p.Label != "accessible" {
			t.Errorf("Label = %s, want accessible", p.Label)
		}
		if p.Probability != 0.82 {
			t.Errorf("Probability = %v, want 0.82", p.Probability)
		}
		if p.Tier != TierMedium {
			t.Errorf("Tier = %s, want medium", p.Tier)
		}
		if p.Kind != KindClassifier {
			t.Errorf("Kind = %s, want classifier", p.Kind)
		}
	})

	t.Run("one-hot fallback from label", func(t *testing.T) {
		p, err := FromClassifier("surface", classes, 2, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if p.Label != "limited" || p.Probability != 1 || p.Tier != TierHigh {
			t.Errorf("got %s/%v/%s, want limited/1/high", p.Label, p.Probability, p.Tier)
		}
	})

	t.Run("strict rejects missing probabilities", func(t *testing.T) {
		if _, err := FromClassifier("surface", classes, 1, nil, true); err == nil {
			t.Error("expected error for strict model without probabilities")
		}
	})

	t.Run("label out of range without probabilities", func(t *testing.T) {
		if _, err := FromClassifier("surface", classes, 7, nil, false); err == nil {
			t.Error("expected error for out-of-range label")
		}
	})

	t.Run("probability class count mismatch", func(t *testing.T) {
		if _, err := FromClassifier("surface", classes, 0, []float32{0.5, 0.5}, false); err == nil {
			t.Error("expected error for mismatched probability count")
		}
	})

	t.Run("probabilities map keyed by label", func(t *testing.T) {
		p, err := FromClassifier("accessibility", classes, 1, []float32{0.2, 0.7, 0.1}, false)
		if err != nil {
			t.Fatal(err)
		}
		if p.Probabilities["not_accessible"] != 0.2 || p.Probabilities["accessible"] != 0.7 {
			t.Errorf("Probabilities = %v", p.Probabilities)
		}
	})
}

func TestAlternatives(t *testing.T) {
	classes := []string{"a", "b", "c", "d", "e", "f"}
	probs := []float32{0.40, 0.25, 0.15, 0.10, 0.06, 0.04}

	p, err := FromClassifier("surface", classes, 0, probs, false)
	if err != nil {
		t.Fatal(err)
	}

	// "f" is below the noise floor, and only three runners-up survive.
	if len(p.Alternatives) != maxAlternatives {
		t.Fatalf("len(Alternatives) = %d, want %d", len(p.Alternatives), maxAlternatives)
	}
	wantOrder := []string{"b", "c", "d"}
	for i, alt := range p.Alternatives {
		if alt.Label != wantOrder[i] {
			t.Errorf("Alternatives[%d] = %s, want %s", i, alt.Label, wantOrder[i])
		}
	}
}

func TestAlternativesExcludeChosen(t *testing.T) {
	p, err := FromClassifier("surface", []string{"x", "y"}, 0, []float32{0.6, 0.4}, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, alt := range p.Alternatives {
		if alt.Label == p.Label {
			t.Errorf("chosen label %s appears in alternatives", p.Label)
		}
	}
}

func TestFromRegressor(t *testing.T) {
	p := FromRegressor("width", "meters", 1.8)
	if p.Kind != KindRegressor {
		t.Errorf("Kind = %s, want regressor", p.Kind)
	}
	if p.Scalar != 1.8 || p.Unit != "meters" {
		t.Errorf("got %v %s, want 1.8 meters", p.Scalar, p.Unit)
	}
	if p.Tier != "" {
		t.Errorf("regressor should carry no tier, got %s", p.Tier)
	}
}
