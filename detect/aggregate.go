package detect

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyInput is returned when there are no frame scores to aggregate.
var ErrEmptyInput = errors.New("no frame scores to aggregate")

// topSuspiciousCount is how many high-scoring frames the report surfaces.
const topSuspiciousCount = 5

// Aggregate reduces per-frame scores into the final report. Pure and
// stateless: the same input always yields an identical report and the
// input slice is never mutated.
func Aggregate(scored []FrameScore, modelID string, threshold float64) (Report, error) {
	if len(scored) == 0 {
		return Report{}, ErrEmptyInput
	}

	total := float64(len(scored))
	var sumScore, sumCertainty float64
	var fakeCount int
	for _, fs := range scored {
		sumScore += fs.Score
		sumCertainty += fs.Certainty
		if fs.Label == VerdictFake {
			fakeCount++
		}
	}
	meanScore := sumScore / total
	meanCertainty := sumCertainty / total

	var varianceSum float64
	for _, fs := range scored {
		diff := fs.Score - meanScore
		varianceSum += diff * diff
	}
	stdScore := math.Sqrt(varianceSum / total)

	// Certainty-weighted mean score; plain mean when every certainty is
	// zero to avoid dividing by zero.
	var weightedSum, weightTotal float64
	for _, fs := range scored {
		weightedSum += fs.Score * fs.Certainty
		weightTotal += fs.Certainty
	}
	weightedScore := meanScore
	if weightTotal > 0 {
		weightedScore = weightedSum / weightTotal
	}

	verdict := VerdictReal
	if weightedScore > threshold {
		verdict = VerdictFake
	}

	ranked := make([]FrameScore, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].FrameIndex < ranked[j].FrameIndex
	})
	limit := topSuspiciousCount
	if len(ranked) < limit {
		limit = len(ranked)
	}
	suspicious := make([]SuspiciousFrame, 0, limit)
	for _, fs := range ranked[:limit] {
		suspicious = append(suspicious, SuspiciousFrame{
			Timestamp:  fs.Timestamp,
			FrameIndex: fs.FrameIndex,
			FakeScore:  round2(fs.Score * 100),
			Certainty:  round2(fs.Certainty * 100),
		})
	}

	return Report{
		Verdict:         verdict,
		Confidence:      round2(meanCertainty * 100),
		FakeProbability: round2(weightedScore * 100),
		Statistics: Statistics{
			TotalFrames:    len(scored),
			FakeFrames:     fakeCount,
			RealFrames:     len(scored) - fakeCount,
			FakePercentage: round2(float64(fakeCount) / total * 100),
			MeanScore:      round4(meanScore),
			StdScore:       round4(stdScore),
			MeanCertainty:  round4(meanCertainty),
		},
		SuspiciousFrames: suspicious,
		ModelID:          modelID,
		Threshold:        threshold,
		FrameCount:       len(scored),
	}, nil
}

// DegradedReport is the fallback produced when scoring or aggregation
// could not run. The frame count still reflects what extraction produced
// so operators can see the file was processed.
func DegradedReport(modelID string, threshold float64, frameCount int) Report {
	return Report{
		Verdict:          VerdictUncertain,
		Statistics:       Statistics{TotalFrames: frameCount},
		SuspiciousFrames: []SuspiciousFrame{},
		ModelID:          modelID,
		Threshold:        threshold,
		FrameCount:       frameCount,
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
