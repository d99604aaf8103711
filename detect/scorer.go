package detect

import (
	"context"
	"errors"
	"fmt"

	"sherlock/video"
)

// Score is one raw model output: a fake-likelihood plus the model's own
// confidence in that likelihood. Both are in [0,1].
type Score struct {
	Score     float64 `json:"prediction"`
	Certainty float64 `json:"confidence"`
}

var (
	// ErrUnknownModel is returned when a model identifier does not resolve
	// to a registered scorer.
	ErrUnknownModel = errors.New("unknown model")

	// ErrInvalidInput is returned when a frame batch does not match the
	// scorer's expected input shape.
	ErrInvalidInput = errors.New("invalid input shape")
)

// Scorer assigns a (score, certainty) pair to every frame in a batch,
// preserving input order. Implementations must not mutate frames; batching
// for throughput is the caller's responsibility.
type Scorer interface {
	ID() string
	InputSize() int
	ScoreBatch(ctx context.Context, frames []video.Frame) ([]Score, error)
}

// ScoreFrames runs a scorer over all frames in fixed-size batches and
// concatenates the results. The output always parallels the input.
func ScoreFrames(ctx context.Context, scorer Scorer, frames []video.Frame, batchSize int) ([]Score, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	scores := make([]Score, 0, len(frames))
	for start := 0; start < len(frames); start += batchSize {
		end := start + batchSize
		if end > len(frames) {
			end = len(frames)
		}

		batch, err := scorer.ScoreBatch(ctx, frames[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d failed: %w", start/batchSize, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("scorer returned %d results for %d frames", len(batch), end-start)
		}
		scores = append(scores, batch...)
	}

	return scores, nil
}

// LabelFrames merges frames with their scores into labelled results using
// the run-scoped threshold.
func LabelFrames(frames []video.Frame, scores []Score, threshold float64) []FrameScore {
	labelled := make([]FrameScore, 0, len(frames))
	for i, frame := range frames {
		if i >= len(scores) {
			break
		}
		label := VerdictReal
		if scores[i].Score > threshold {
			label = VerdictFake
		}
		labelled = append(labelled, FrameScore{
			FrameIndex: frame.Index,
			Timestamp:  frame.Timestamp,
			Score:      scores[i].Score,
			Certainty:  scores[i].Certainty,
			Label:      label,
		})
	}
	return labelled
}

// validateShape rejects frames whose buffer does not match the expected
// square RGB input of a scorer.
func validateShape(frames []video.Frame, inputSize int) error {
	expected := inputSize * inputSize * 3
	for _, frame := range frames {
		if frame.Width != inputSize || frame.Height != inputSize || len(frame.Pixels) != expected {
			return fmt.Errorf("frame %d is %dx%d (%d values), expected %dx%d: %w",
				frame.Index, frame.Width, frame.Height, len(frame.Pixels), inputSize, inputSize, ErrInvalidInput)
		}
	}
	return nil
}
