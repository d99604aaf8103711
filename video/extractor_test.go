package video

import "testing"

func TestFrameInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		sourceFPS  float64
		targetRate float64
		want       int
	}{
		{"30fps at 1/s", 30, 1, 30},
		{"24fps at 1/s", 24, 1, 24},
		{"30fps at 2/s", 30, 2, 15},
		{"target above source clamps to every frame", 15, 30, 1},
		{"zero source fps", 0, 1, 1},
		{"zero target rate", 30, 0, 1},
		{"fractional broadcast rate", 29.97, 1, 29},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := frameInterval(tc.sourceFPS, tc.targetRate); got != tc.want {
				t.Fatalf("frameInterval(%v, %v) = %d, want %d", tc.sourceFPS, tc.targetRate, got, tc.want)
			}
		})
	}
}

func TestFrameBudget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		duration   float64
		targetRate float64
		maxFrames  int
		want       int
	}{
		{"short clip under the cap", 60, 1, 300, 61},
		{"long video hits the cap", 3600, 1, 300, 300},
		{"higher rate hits the cap sooner", 200, 2, 300, 300},
		{"unknown duration falls back to the cap", 0, 1, 300, 300},
		{"zero rate falls back to the cap", 120, 0, 300, 300},
		{"budget never drops below one", 0.1, 1, 0, 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := frameBudget(tc.duration, tc.targetRate, tc.maxFrames); got != tc.want {
				t.Fatalf("frameBudget(%v, %v, %d) = %d, want %d",
					tc.duration, tc.targetRate, tc.maxFrames, got, tc.want)
			}
		})
	}
}
