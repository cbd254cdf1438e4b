package models

import "time"

// OrchestrationResult summarizes one orchestration run. It is created
// once per run, immutable after the run completes, and archived for
// audit.
type OrchestrationResult struct {
	// ID is the unique identifier of the orchestration run.
	ID string `json:"id"`
	// TotalTasks is the number of tasks submitted.
	TotalTasks int `json:"total_tasks"`
	// SuccessfulTasks is the number of tasks that succeeded.
	SuccessfulTasks int `json:"successful_tasks"`
	// FailedTasks is the number of tasks that failed.
	FailedTasks int `json:"failed_tasks"`
	// Sequential indicates the run degraded to the sequential path.
	Sequential bool `json:"sequential"`
	// Elapsed is the observed wall-clock time of the run.
	Elapsed time.Duration `json:"elapsed"`
	// SpeedupEstimate is the ratio of an assumed fixed-cost sequential
	// baseline to the observed wall-clock time, capped at TotalTasks.
	SpeedupEstimate float64 `json:"speedup_estimate"`
	// TaskResults holds exactly one terminal result per submitted task,
	// in completion order.
	TaskResults []TaskResult `json:"task_results"`
	// ErrorSummary describes systemic failures, if any.
	ErrorSummary string `json:"error_summary,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`
}

// AllSucceeded returns true if every submitted task succeeded.
func (r OrchestrationResult) AllSucceeded() bool {
	return r.TotalTasks > 0 && r.SuccessfulTasks == r.TotalTasks
}

// ResultFor returns the task result for the given id, if present.
func (r OrchestrationResult) ResultFor(taskID string) (TaskResult, bool) {
	for _, tr := range r.TaskResults {
		if tr.TaskID == taskID {
			return tr, true
		}
	}
	return TaskResult{}, false
}
