package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sherlock/detect"
	"sherlock/models"
	"sherlock/utils"
)

// Status is the lifecycle state of a task. Transitions only move forward:
// created -> uploaded -> processing -> completed|failed. Terminal states
// leave only by explicit deletion.
type Status string

const (
	StatusCreated    Status = "created"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsActive reports whether the status counts against the concurrency
// ceiling.
func (s Status) IsActive() bool {
	switch s {
	case StatusCreated, StatusUploaded, StatusProcessing:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task has finished one way or the other.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one submitted analysis tracked through its lifecycle. The
// registry owns the canonical copy; callers always receive value copies.
type Task struct {
	ID          string
	Filename    string
	FilePath    string // uploaded file owned by the task until cleanup
	ModelID     string
	Status      Status
	Progress    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	Report      *detect.Report // set only when Status == completed
	Error       string         // set only when Status == failed
}

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrDuplicateTask    = errors.New("task already exists")
	ErrCapacityExceeded = errors.New("maximum concurrent tasks exceeded")
)

// Registry is the single source of truth for tasks while the process is
// alive. Every read and write goes through one mutex; the lock is never
// held across capability calls or listener callbacks.
type Registry struct {
	mu            sync.Mutex
	tasks         map[string]*Task
	maxConcurrent int
	listeners     []func(Task)
	logger        *slog.Logger
}

// NewRegistry creates an empty registry with the given concurrency ceiling.
func NewRegistry(maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Registry{
		tasks:         make(map[string]*Task),
		maxConcurrent: maxConcurrent,
		logger:        utils.GetLogger(),
	}
}

// MaxConcurrent returns the configured concurrency ceiling.
func (r *Registry) MaxConcurrent() int { return r.maxConcurrent }

// OnUpdate registers a listener invoked with a task snapshot after every
// mutation. Listeners run outside the registry lock.
func (r *Registry) OnUpdate(fn func(Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify(snapshot Task) {
	for _, fn := range r.listeners {
		fn(snapshot)
	}
}

// CheckCapacity is the advisory admission gate: it rejects when the count
// of active tasks has reached the ceiling. The check and a subsequent
// Create are deliberately not atomic together; a slight overshoot under
// race is acceptable in a single process.
func (r *Registry) CheckCapacity() error {
	if r.CountActive() >= r.maxConcurrent {
		return ErrCapacityExceeded
	}
	return nil
}

// Create registers a new task record.
func (r *Registry) Create(task Task) error {
	r.mu.Lock()
	if _, exists := r.tasks[task.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateTask
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusCreated
	}

	stored := task
	r.tasks[task.ID] = &stored
	snapshot := stored
	r.mu.Unlock()

	r.logger.Info("created task", slog.String("taskID", task.ID), slog.String("model", task.ModelID))
	r.notify(snapshot)
	return nil
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

// UpdateStatus atomically applies a status change. A negative progress
// leaves the current value untouched.
func (r *Registry) UpdateStatus(id string, status Status, progress int) error {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return ErrTaskNotFound
	}

	task.Status = status
	task.UpdatedAt = time.Now()
	if progress >= 0 {
		task.Progress = progress
	}
	snapshot := *task
	r.mu.Unlock()

	r.logger.Info("updated task",
		slog.String("taskID", id),
		slog.String("status", string(status)),
		slog.Int("progress", snapshot.Progress))
	r.notify(snapshot)
	return nil
}

// Complete marks the task finished with its report.
func (r *Registry) Complete(id string, report detect.Report) error {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = StatusCompleted
	task.Progress = 100
	task.Report = &report
	task.CompletedAt = &now
	task.UpdatedAt = now
	snapshot := *task
	r.mu.Unlock()

	r.logger.Info("completed task", slog.String("taskID", id), slog.String("verdict", report.Verdict))
	r.notify(snapshot)
	return nil
}

// Fail marks the task failed. Progress is left as-is so partial progress
// stays visible.
func (r *Registry) Fail(id string, errMsg string) error {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = StatusFailed
	task.Error = errMsg
	task.FailedAt = &now
	task.UpdatedAt = now
	snapshot := *task
	r.mu.Unlock()

	r.logger.Error("failed task", slog.String("taskID", id), slog.String("error", errMsg))
	r.notify(snapshot)
	return nil
}

// Delete removes a task record. Releasing the uploaded file is the
// caller's responsibility.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

// List returns reduced public projections, newest-created first. The
// result is a snapshot; mutating it does not touch registry state.
func (r *Registry) List(limit, offset int, statusFilter Status) []models.TaskView {
	r.mu.Lock()
	all := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if statusFilter != "" && task.Status != statusFilter {
			continue
		}
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	views := make([]models.TaskView, 0, end-offset)
	for _, task := range all[offset:end] {
		views = append(views, projectTask(task))
	}
	r.mu.Unlock()

	return views
}

// View returns the reduced public projection of the task.
func (t Task) View() models.TaskView {
	return projectTask(&t)
}

func projectTask(task *Task) models.TaskView {
	view := models.TaskView{
		TaskID:      task.ID,
		Filename:    task.Filename,
		Status:      string(task.Status),
		Progress:    task.Progress,
		ModelID:     task.ModelID,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
	if task.Status == StatusCompleted && task.Report != nil {
		view.Summary = &models.VerdictSummary{
			Verdict:         task.Report.Verdict,
			Confidence:      task.Report.Confidence,
			FakeProbability: task.Report.FakeProbability,
		}
	}
	return view
}

// CountActive counts tasks still holding a concurrency slot.
func (r *Registry) CountActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, task := range r.tasks {
		if task.Status.IsActive() {
			count++
		}
	}
	return count
}

// CountTotal returns the number of tracked tasks.
func (r *Registry) CountTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Statistics builds the occupancy summary for the health endpoint.
func (r *Registry) Statistics() models.TaskStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	active := 0
	for _, task := range r.tasks {
		counts[string(task.Status)]++
		if task.Status.IsActive() {
			active++
		}
	}

	completed := counts[string(StatusCompleted)]
	finished := completed + counts[string(StatusFailed)]
	rate := 0.0
	if finished > 0 {
		rate = float64(completed) / float64(finished) * 100
	}

	return models.TaskStatistics{
		TotalTasks:     len(r.tasks),
		ActiveTasks:    active,
		StatusCounts:   counts,
		CompletionRate: rate,
	}
}

// CleanupOlderThan sweeps terminal tasks created before the cutoff and
// returns how many were removed.
func (r *Registry) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, task := range r.tasks {
		if task.Status.IsTerminal() && task.CreatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// RunJanitor periodically evicts old terminal tasks until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.CleanupOlderThan(maxAge); removed > 0 {
				r.logger.Info("cleaned up old tasks", slog.Int("removed", removed))
			}
		}
	}
}
