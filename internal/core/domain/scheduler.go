package domain

import "time"

// ScheduledTask represents a recurring reconciliation task for one backend.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string

	// Name is a human-readable name for the task.
	Name string

	// Backend is the backend the task reconciles from.
	Backend string

	// Interval defines how often the task should run.
	Interval time.Duration

	// LastRun is when the task last ran.
	LastRun time.Time

	// NextRun is when the task should run next.
	NextRun time.Time

	// LastError contains the last error message, if any.
	LastError string

	// LastSuccess is when the task last completed successfully.
	LastSuccess time.Time

	// Enabled indicates whether the task is active.
	Enabled bool
}

// TaskResult represents the outcome of a task execution.
type TaskResult struct {
	// TaskID identifies which task was run.
	TaskID string

	// StartedAt is when the task started.
	StartedAt time.Time

	// EndedAt is when the task completed.
	EndedAt time.Time

	// Success indicates whether the delta pull completed without error.
	Success bool

	// Error contains the error message if Success is false.
	Error string

	// ItemsProcessed is the number of records pulled.
	ItemsProcessed int

	// PropagationFailures counts peers that rejected the bulk apply.
	PropagationFailures int
}

// SyncState is the persisted reconciliation checkpoint for a backend.
type SyncState struct {
	// Backend is the backend name.
	Backend string

	// LastSync is the backend's delta high-water mark.
	LastSync time.Time

	// UpdatedAt is when the checkpoint was written.
	UpdatedAt time.Time
}

// ReconcileTaskPrefix prefixes reconciliation task IDs.
const ReconcileTaskPrefix = "reconcile:"

// ReconcileTaskID returns the task ID for a backend.
func ReconcileTaskID(backend string) string {
	return ReconcileTaskPrefix + backend
}

// TaskHistoryLimit is how many results are retained per task.
const TaskHistoryLimit = 100
