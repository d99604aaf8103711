package detect

// FrameScore couples one analyzed frame with its model verdict.
type FrameScore struct {
	FrameIndex int     `json:"frameIndex"`
	Timestamp  float64 `json:"timestamp"`
	Score      float64 `json:"prediction"` // probability the frame is fake, [0,1]
	Certainty  float64 `json:"confidence"` // model-reported confidence, [0,1]
	Label      string  `json:"label"`      // "fake" or "real" at the run threshold
}

// SuspiciousFrame is the reduced view of a high-scoring frame surfaced in
// the final report. Score and certainty are percentages here.
type SuspiciousFrame struct {
	Timestamp  float64 `json:"timestamp"`
	FrameIndex int     `json:"frameIndex"`
	FakeScore  float64 `json:"fakeProbability"`
	Certainty  float64 `json:"confidence"`
}

// Statistics summarises the raw per-frame scores of one run.
type Statistics struct {
	TotalFrames    int     `json:"totalFrames"`
	FakeFrames     int     `json:"fakeFrames"`
	RealFrames     int     `json:"realFrames"`
	FakePercentage float64 `json:"fakePercentage"`
	MeanScore      float64 `json:"meanPrediction"`
	StdScore       float64 `json:"stdPrediction"`
	MeanCertainty  float64 `json:"meanConfidence"`
}

// Report is the aggregate verdict for one completed analysis. Immutable
// once produced.
type Report struct {
	Verdict          string            `json:"prediction"` // "fake" | "real" | "uncertain"
	Confidence       float64           `json:"confidence"` // percent
	FakeProbability  float64           `json:"fakeProbability"`
	Statistics       Statistics        `json:"statistics"`
	SuspiciousFrames []SuspiciousFrame `json:"suspiciousFrames"`
	ModelID          string            `json:"model"`
	Threshold        float64           `json:"threshold"`
	FrameCount       int               `json:"framesAnalyzed"`
}

// Verdict labels. VerdictUncertain marks degraded reports produced when
// scoring or aggregation could not run.
const (
	VerdictFake      = "fake"
	VerdictReal      = "real"
	VerdictUncertain = "uncertain"
)

// ModelInfo describes one catalog entry for the models endpoint.
type ModelInfo struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description"`
	InputSize     int    `json:"inputSize"`
	Preprocessing string `json:"preprocessing"`
	Available     bool   `json:"available"`
	Default       bool   `json:"isDefault"`
}
