package models

import "time"

// TaskView is the reduced public projection of a task returned by listing
// endpoints. Internal-only fields (upload path, raw report) are not exposed.
type TaskView struct {
	TaskID      string          `json:"taskId"`
	Filename    string          `json:"filename"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	ModelID     string          `json:"model"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Summary     *VerdictSummary `json:"resultsSummary,omitempty"`
}

// VerdictSummary surfaces the headline numbers of a completed analysis.
type VerdictSummary struct {
	Verdict         string  `json:"prediction"`
	Confidence      float64 `json:"confidence"`
	FakeProbability float64 `json:"fakeProbability"`
}

// TaskStatistics summarises registry occupancy for the health endpoint.
type TaskStatistics struct {
	TotalTasks     int            `json:"totalTasks"`
	ActiveTasks    int            `json:"activeTasks"`
	StatusCounts   map[string]int `json:"statusCounts"`
	CompletionRate float64        `json:"completionRate"`
}
