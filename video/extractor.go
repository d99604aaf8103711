package video

import (
	"context"
	"errors"
)

// Frame is one normalized RGB frame extracted from a video, ready for scoring.
// Pixels holds Width*Height*3 float32 values in [0,1], row-major, RGB order.
type Frame struct {
	Index     int
	Timestamp float64 // seconds from the start of the video
	Width     int
	Height    int
	Pixels    []float32
}

// Metadata describes the source video and the extraction parameters used.
type Metadata struct {
	OriginalFPS     float64 `json:"originalFps"`
	TotalFrames     int     `json:"totalFrames"`
	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	ExtractedFrames int     `json:"extractedFrames"`
	ExtractionRate  float64 `json:"extractionRate"`
	FrameInterval   int     `json:"frameInterval"`
}

// Extraction bundles the ordered frame sequence with its source metadata.
type Extraction struct {
	Frames []Frame
	Meta   Metadata
}

// ErrNoFrames signals that a readable video yielded zero frames.
var ErrNoFrames = errors.New("video produced no frames")

// Extractor is the frame-extraction capability. Implementations must return
// a dense, 0-indexed frame sequence where every frame shares the same shape,
// honouring both the target extraction rate and the maximum frame count
// (whichever cap is stricter wins).
type Extractor interface {
	ExtractFrames(ctx context.Context, path string, targetSize int) (*Extraction, error)
}

// frameInterval converts a source frame rate and a target extraction rate
// into the stride between sampled frames. Never less than 1.
func frameInterval(sourceFPS, targetRate float64) int {
	if sourceFPS <= 0 || targetRate <= 0 {
		return 1
	}
	interval := int(sourceFPS / targetRate)
	if interval < 1 {
		interval = 1
	}
	return interval
}

// frameBudget caps the number of frames to extract: the rate-derived
// estimate and the absolute maximum are independent limits and the
// stricter one applies.
func frameBudget(duration, targetRate float64, maxFrames int) int {
	budget := maxFrames
	if duration > 0 && targetRate > 0 {
		byRate := int(duration*targetRate) + 1
		if byRate < budget {
			budget = byRate
		}
	}
	if budget < 1 {
		budget = 1
	}
	return budget
}
