package pipeline

import "fmt"

// Stage identifies one step of the analysis pipeline.
type Stage string

const (
	StageExtraction  Stage = "extraction"
	StageScoring     Stage = "scoring"
	StageAggregation Stage = "aggregation"
)

// StagePolicy decides what a stage failure does to the task.
type StagePolicy int

const (
	// PolicyFatal fails the task: there is nothing to show without the
	// stage's output.
	PolicyFatal StagePolicy = iota
	// PolicyDegrade completes the task with a degraded report: the file
	// was processed even though the verdict could not be computed.
	PolicyDegrade
)

// stagePolicies is the explicit fatal-vs-degrade dispatch table.
// Extraction failure means "nothing to show"; scoring and aggregation
// failures still allow reporting that a file was received and how many
// frames it produced.
var stagePolicies = map[Stage]StagePolicy{
	StageExtraction:  PolicyFatal,
	StageScoring:     PolicyDegrade,
	StageAggregation: PolicyDegrade,
}

// PolicyFor returns the failure policy of a stage. Unknown stages are
// treated as fatal.
func PolicyFor(stage Stage) StagePolicy {
	policy, ok := stagePolicies[stage]
	if !ok {
		return PolicyFatal
	}
	return policy
}

// StageError tags an error with the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
