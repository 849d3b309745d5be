package feed

import (
	"testing"
)

func TestParseBbox(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Bbox
		wantErr bool
	}{
		{
			name: "plain",
			raw:  "52.50,13.37,52.52,13.42",
			want: Bbox{South: 52.50, West: 13.37, North: 52.52, East: 13.42},
		},
		{
			name: "spaces tolerated",
			raw:  "52.50, 13.37, 52.52, 13.42",
			want: Bbox{South: 52.50, West: 13.37, North: 52.52, East: 13.42},
		},
		{name: "too few components", raw: "1,2,3", wantErr: true},
		{name: "not numbers", raw: "a,b,c,d", wantErr: true},
		{name: "inverted latitude", raw: "52.52,13.37,52.50,13.42", wantErr: true},
		{name: "inverted longitude", raw: "52.50,13.42,52.52,13.37", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBbox(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBbox(%q) succeeded with %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseBbox(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBboxString(t *testing.T) {
	b := Bbox{South: 52.5, West: 13.37, North: 52.52, East: 13.42}
	if got := b.String(); got != "52.5,13.37,52.52,13.42" {
		t.Errorf("String() = %s", got)
	}
}
