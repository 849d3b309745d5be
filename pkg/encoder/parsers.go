package encoder

import (
	"strconv"
	"strings"
)

// ParseWidth converts an OSM width value to meters. Handles "2.5 m",
// "250 cm", "8 ft", "8'", `30"` and bare numbers (already meters). Anything
// unparseable, including the empty string, is 0.
func ParseWidth(raw string) float32 {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")

	factor := float64(1) // default unit is meters
	switch {
	case strings.HasSuffix(s, "cm"):
		s = strings.TrimSuffix(s, "cm")
		factor = 0.01
	case strings.HasSuffix(s, "mm"):
		s = strings.TrimSuffix(s, "mm")
		factor = 0.001
	case strings.HasSuffix(s, "km"):
		s = strings.TrimSuffix(s, "km")
		factor = 1000
	case strings.HasSuffix(s, "ft"):
		s = strings.TrimSuffix(s, "ft")
		factor = 0.3048
	case strings.HasSuffix(s, "'"):
		s = strings.TrimSuffix(s, "'")
		factor = 0.3048
	case strings.HasSuffix(s, "in"):
		s = strings.TrimSuffix(s, "in")
		factor = 0.0254
	case strings.HasSuffix(s, `"`):
		s = strings.TrimSuffix(s, `"`)
		factor = 0.0254
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return float32(f * factor)
}

// ParseIncline converts an OSM incline value to percent. Handles "5%",
// "-3.2", and ratio notation "1:20" (→ 5.0). Directional words ("up",
// "down") carry no magnitude and parse to 0.
func ParseIncline(raw string) float32 {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")

	if i := strings.IndexByte(s, ':'); i >= 0 {
		num, err1 := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
		den, err2 := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0
		}
		return float32(num / den * 100)
	}

	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return float32(f)
}
