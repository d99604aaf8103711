package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sherlock/video"
)

func newTestRegistry(t *testing.T, weightsDir, defaultID string) *Registry {
	t.Helper()
	registry, err := NewRegistry(NewInferenceClient(""), weightsDir, defaultID)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return registry
}

func TestNewRegistryRejectsUnknownDefault(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(NewInferenceClient(""), "weights", "resnet")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, t.TempDir(), "xception")

	scorer, err := registry.Resolve("mesonet")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if scorer.ID() != "mesonet" || scorer.InputSize() != 256 {
		t.Fatalf("unexpected scorer: id=%s inputSize=%d", scorer.ID(), scorer.InputSize())
	}

	// Empty id falls through to the default model.
	scorer, err = registry.Resolve("")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if scorer.ID() != "xception" {
		t.Fatalf("empty id resolved to %s, expected default", scorer.ID())
	}

	if _, err := registry.Resolve("resnet"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRegistryInputSizeFor(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, t.TempDir(), "xception")

	if got := registry.InputSizeFor("mesonet"); got != 256 {
		t.Fatalf("expected 256 for mesonet, got %d", got)
	}
	// Unknown ids use the default model's size so extraction can start
	// before the scorer is resolved.
	if got := registry.InputSizeFor("resnet"); got != 224 {
		t.Fatalf("expected default 224 for unknown model, got %d", got)
	}
}

func TestRegistryCatalogAvailability(t *testing.T) {
	t.Parallel()

	weightsDir := t.TempDir()
	path := filepath.Join(weightsDir, "xception_deepfake_detector.pth")
	if err := os.WriteFile(path, []byte("weights"), 0644); err != nil {
		t.Fatalf("failed to seed weights file: %v", err)
	}

	registry := newTestRegistry(t, weightsDir, "mesonet")
	catalog := registry.Catalog()
	if len(catalog) != 2 {
		t.Fatalf("expected 2 models, got %d", len(catalog))
	}

	// The default model sorts first regardless of declaration order.
	if catalog[0].Name != "mesonet" || !catalog[0].Default {
		t.Fatalf("expected default mesonet first, got %+v", catalog[0])
	}
	if catalog[0].Available {
		t.Fatal("mesonet has no weights file yet it reports available")
	}
	if catalog[1].Name != "xception" || !catalog[1].Available {
		t.Fatalf("xception weights are present yet it reports unavailable: %+v", catalog[1])
	}
}

// recordingScorer captures batch sizes for the batching tests.
type recordingScorer struct {
	inputSize  int
	batchSizes []int
	failAt     int // batch index to fail on, -1 for never
}

func (s *recordingScorer) ID() string     { return "recording" }
func (s *recordingScorer) InputSize() int { return s.inputSize }

func (s *recordingScorer) ScoreBatch(ctx context.Context, frames []video.Frame) ([]Score, error) {
	if s.failAt >= 0 && len(s.batchSizes) == s.failAt {
		return nil, errors.New("scoring backend unavailable")
	}
	s.batchSizes = append(s.batchSizes, len(frames))
	scores := make([]Score, len(frames))
	for i, frame := range frames {
		scores[i] = Score{Score: float64(frame.Index) / 100.0, Certainty: 1.0}
	}
	return scores, nil
}

func makeFrames(count, size int) []video.Frame {
	frames := make([]video.Frame, count)
	for i := range frames {
		frames[i] = video.Frame{
			Index:     i,
			Timestamp: float64(i),
			Width:     size,
			Height:    size,
			Pixels:    make([]float32, size*size*3),
		}
	}
	return frames
}

func TestScoreFramesBatches(t *testing.T) {
	t.Parallel()

	scorer := &recordingScorer{inputSize: 4, failAt: -1}
	frames := makeFrames(70, 4)

	scores, err := ScoreFrames(context.Background(), scorer, frames, 32)
	if err != nil {
		t.Fatalf("ScoreFrames returned error: %v", err)
	}
	if len(scores) != 70 {
		t.Fatalf("expected 70 scores, got %d", len(scores))
	}

	want := []int{32, 32, 6}
	if len(scorer.batchSizes) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), scorer.batchSizes)
	}
	for i, size := range want {
		if scorer.batchSizes[i] != size {
			t.Fatalf("batch %d: expected %d frames, got %d", i, size, scorer.batchSizes[i])
		}
	}

	// Order is preserved across batch boundaries.
	for i, score := range scores {
		if score.Score != float64(i)/100.0 {
			t.Fatalf("score %d out of order: %v", i, score.Score)
		}
	}
}

func TestScoreFramesPropagatesBatchFailure(t *testing.T) {
	t.Parallel()

	scorer := &recordingScorer{inputSize: 4, failAt: 1}
	frames := makeFrames(64, 4)

	if _, err := ScoreFrames(context.Background(), scorer, frames, 32); err == nil {
		t.Fatal("expected error from failing batch")
	}
}

func TestLabelFrames(t *testing.T) {
	t.Parallel()

	frames := makeFrames(3, 4)
	scores := []Score{
		{Score: 0.9, Certainty: 0.8},
		{Score: 0.5, Certainty: 0.7},
		{Score: 0.51, Certainty: 0.6},
	}

	labelled := LabelFrames(frames, scores, 0.5)
	if len(labelled) != 3 {
		t.Fatalf("expected 3 labelled frames, got %d", len(labelled))
	}
	if labelled[0].Label != VerdictFake {
		t.Fatalf("0.9 above threshold should be fake, got %s", labelled[0].Label)
	}
	// Exactly at the threshold stays real; strictly greater flips.
	if labelled[1].Label != VerdictReal {
		t.Fatalf("score equal to threshold should be real, got %s", labelled[1].Label)
	}
	if labelled[2].Label != VerdictFake {
		t.Fatalf("0.51 above threshold should be fake, got %s", labelled[2].Label)
	}
	if labelled[0].FrameIndex != 0 || labelled[0].Timestamp != 0 {
		t.Fatalf("frame metadata lost: %+v", labelled[0])
	}
}

func TestValidateShapeRejectsMismatch(t *testing.T) {
	t.Parallel()

	frames := makeFrames(2, 4)
	frames[1].Pixels = frames[1].Pixels[:10]

	if err := validateShape(frames, 4); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	frames = makeFrames(2, 8)
	if err := validateShape(frames, 4); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wrong edge length, got %v", err)
	}
	if err := validateShape(makeFrames(2, 4), 4); err != nil {
		t.Fatalf("valid frames rejected: %v", err)
	}
}
