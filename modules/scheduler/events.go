package scheduler

// Event names published after each run.
const (
	EventJobCompleted = "scheduler.job.completed"
	EventJobFailed    = "scheduler.job.failed"
)

// MetricJobRuns counts runs by job and result (success or failure).
const MetricJobRuns = "scheduler_job_runs_total"
