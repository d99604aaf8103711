package video

import (
	"math"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := parseFrameRate(tc.raw); math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
