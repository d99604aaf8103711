package pipeline

import (
	"errors"
	"testing"
)

func TestPolicyFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stage Stage
		want  StagePolicy
	}{
		{StageExtraction, PolicyFatal},
		{StageScoring, PolicyDegrade},
		{StageAggregation, PolicyDegrade},
		{Stage("unheard-of"), PolicyFatal},
	}
	for _, tc := range cases {
		if got := PolicyFor(tc.stage); got != tc.want {
			t.Errorf("PolicyFor(%s) = %v, want %v", tc.stage, got, tc.want)
		}
	}
}

func TestStageErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("codec not supported")
	stageErr := &StageError{Stage: StageExtraction, Err: cause}

	if !errors.Is(stageErr, cause) {
		t.Fatal("StageError does not unwrap to its cause")
	}
	if stageErr.Error() != "extraction stage failed: codec not supported" {
		t.Fatalf("unexpected message: %q", stageErr.Error())
	}
}
