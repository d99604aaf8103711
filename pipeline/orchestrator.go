package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/mdobak/go-xerrors"

	"sherlock/detect"
	"sherlock/storage"
	"sherlock/tasks"
	"sherlock/utils"
	"sherlock/video"
)

// Progress checkpoints reported while a run advances. Fixed values, not
// proportional to data size.
const (
	progressStarted    = 10
	progressExtracted  = 40
	progressScored     = 80
	progressAggregated = 95
)

// Orchestrator runs one task's pipeline end-to-end on a background
// goroutine, bounded by a worker-pool semaphore. Each run is sequential
// internally; concurrency exists only across tasks.
type Orchestrator struct {
	registry  *tasks.Registry
	extractor video.Extractor
	scorers   *detect.Registry
	store     storage.Store
	threshold float64
	batchSize int
	sem       chan struct{}
	logger    *slog.Logger
}

// NewOrchestrator wires the pipeline's collaborators. maxConcurrent
// bounds simultaneous runs; threshold is the run-scoped classification
// threshold.
func NewOrchestrator(registry *tasks.Registry, extractor video.Extractor, scorers *detect.Registry, store storage.Store, threshold float64, batchSize, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Orchestrator{
		registry:  registry,
		extractor: extractor,
		scorers:   scorers,
		store:     store,
		threshold: threshold,
		batchSize: batchSize,
		sem:       make(chan struct{}, maxConcurrent),
		logger:    utils.GetLogger(),
	}
}

// Schedule queues a pipeline run for the task. It returns immediately;
// the submitting request never blocks on processing.
func (o *Orchestrator) Schedule(taskID, filePath, modelID string) {
	go func() {
		o.sem <- struct{}{} // acquire worker slot
		defer func() { <-o.sem }()

		ctx := context.Background()

		// The scheduled run owns the uploaded file; release it on every
		// exit path. Cleanup errors are logged, never propagated.
		defer func() {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				o.logger.WarnContext(ctx, "failed to clean up uploaded file",
					slog.String("taskID", taskID),
					slog.Any("error", xerrors.New(err)))
			}
		}()

		o.run(ctx, taskID, filePath, modelID)
	}()
}

// Run executes the pipeline synchronously. Used by the CLI tooling; the
// HTTP path goes through Schedule.
func (o *Orchestrator) Run(ctx context.Context, taskID, filePath, modelID string) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()
	o.run(ctx, taskID, filePath, modelID)
}

func (o *Orchestrator) run(ctx context.Context, taskID, filePath, modelID string) {
	started := time.Now()

	if !o.setProgress(taskID, progressStarted) {
		return
	}

	extraction, err := o.extractor.ExtractFrames(ctx, filePath, o.scorers.InputSizeFor(modelID))
	if err != nil {
		o.finishFailed(ctx, taskID, &StageError{Stage: StageExtraction, Err: err})
		return
	}
	o.logger.InfoContext(ctx, "extracted frames",
		slog.String("taskID", taskID),
		slog.Int("frames", len(extraction.Frames)),
		slog.Float64("duration", extraction.Meta.Duration))

	if !o.setProgress(taskID, progressExtracted) {
		return
	}

	report, stageErr := o.scoreAndAggregate(ctx, taskID, modelID, extraction.Frames)
	if stageErr != nil {
		// The dispatch table says scoring/aggregation degrade rather than
		// fail: a detection failure must not erase the fact that the file
		// was processed.
		if PolicyFor(stageErr.Stage) == PolicyFatal {
			o.finishFailed(ctx, taskID, stageErr)
			return
		}
		o.logger.WarnContext(ctx, "pipeline stage degraded",
			slog.String("taskID", taskID),
			slog.String("stage", string(stageErr.Stage)),
			slog.Any("error", xerrors.New(stageErr.Err)))
		report = detect.DegradedReport(modelID, o.threshold, len(extraction.Frames))
	}

	if !o.setProgress(taskID, progressAggregated) {
		return
	}

	// Registry writes past this point are best-effort: the task may have
	// been deleted while the run was in flight.
	if err := o.registry.Complete(taskID, report); err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return
		}
		o.logger.ErrorContext(ctx, "failed to record completion",
			slog.String("taskID", taskID), slog.Any("error", xerrors.New(err)))
		return
	}

	o.persist(ctx, taskID, modelID, report)

	o.logger.InfoContext(ctx, "pipeline run completed",
		slog.String("taskID", taskID),
		slog.String("verdict", report.Verdict),
		slog.Duration("elapsed", time.Since(started)))
}

// scoreAndAggregate runs the scoring and aggregation stages, returning
// the report or the tagged error of the stage that failed.
func (o *Orchestrator) scoreAndAggregate(ctx context.Context, taskID, modelID string, frames []video.Frame) (detect.Report, *StageError) {
	scorer, err := o.scorers.Resolve(modelID)
	if err != nil {
		return detect.Report{}, &StageError{Stage: StageScoring, Err: err}
	}

	scores, err := detect.ScoreFrames(ctx, scorer, frames, o.batchSize)
	if err != nil {
		return detect.Report{}, &StageError{Stage: StageScoring, Err: err}
	}

	if !o.setProgress(taskID, progressScored) {
		return detect.Report{}, nil
	}

	scored := detect.LabelFrames(frames, scores, o.threshold)
	report, err := detect.Aggregate(scored, scorer.ID(), o.threshold)
	if err != nil {
		return detect.Report{}, &StageError{Stage: StageAggregation, Err: err}
	}
	return report, nil
}

// setProgress advances the task. Returns false when the task record is
// gone, which aborts the run quietly.
func (o *Orchestrator) setProgress(taskID string, progress int) bool {
	err := o.registry.UpdateStatus(taskID, tasks.StatusProcessing, progress)
	return !errors.Is(err, tasks.ErrTaskNotFound)
}

func (o *Orchestrator) finishFailed(ctx context.Context, taskID string, stageErr *StageError) {
	o.logger.ErrorContext(ctx, "pipeline run failed",
		slog.String("taskID", taskID),
		slog.String("stage", string(stageErr.Stage)),
		slog.Any("error", xerrors.New(stageErr.Err)))

	if err := o.registry.Fail(taskID, stageErr.Error()); err != nil && !errors.Is(err, tasks.ErrTaskNotFound) {
		o.logger.ErrorContext(ctx, "failed to record failure",
			slog.String("taskID", taskID), slog.Any("error", xerrors.New(err)))
	}
}

// persist writes the completed report to the durable store. Storage
// errors are logged and do not roll back the completed status.
func (o *Orchestrator) persist(ctx context.Context, taskID, modelID string, report detect.Report) {
	if o.store == nil {
		return
	}
	task, err := o.registry.Get(taskID)
	filename := ""
	if err == nil {
		filename = task.Filename
	}

	rec := storage.Record{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Filename:  filename,
		ModelID:   modelID,
		Report:    report,
	}
	if _, err := o.store.Save(rec); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist report",
			slog.String("taskID", taskID), slog.Any("error", xerrors.New(err)))
	}
}
