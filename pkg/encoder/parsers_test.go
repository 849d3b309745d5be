package encoder

import (
	"math"
	"testing"
)

func TestParseWidth(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float32
	}{
		{"empty", "", 0},
		{"bare meters", "2.5", 2.5},
		{"explicit meters", "2.5 m", 2.5},
		{"comma decimal", "2,5", 2.5},
		{"centimeters", "250 cm", 2.5},
		{"millimeters", "1500mm", 1.5},
		{"kilometers", "0.002 km", 2},
		{"feet", "8 ft", 2.4384},
		{"feet apostrophe", "8'", 2.4384},
		{"inches", "30in", 0.762},
		{"inches quote", `30"`, 0.762},
		{"negative clamped", "-2", 0},
		{"garbage", "wide", 0},
		{"unit only", "cm", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWidth(tt.raw)
			if math.Abs(float64(got-tt.want)) > 1e-4 {
				t.Errorf("ParseWidth(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseIncline(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float32
	}{
		{"empty", "", 0},
		{"percent", "5%", 5},
		{"bare number", "-3.2", -3.2},
		{"comma decimal", "3,5%", 3.5},
		{"ratio", "1:20", 5},
		{"ratio spaced", "1 : 10", 10},
		{"ratio zero denominator", "1:0", 0},
		{"directional word", "up", 0},
		{"garbage", "steep", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIncline(tt.raw)
			if math.Abs(float64(got-tt.want)) > 1e-4 {
				t.Errorf("ParseIncline(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
