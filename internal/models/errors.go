package models

import "errors"

// Error taxonomy for the context engine. Callers match with errors.Is.
var (
	// ErrStaleSummary rejects a summary write whose coverage range would
	// shrink the stored one. The caller re-reads and retries with fresh state.
	ErrStaleSummary = errors.New("stale summary: coverage range would shrink")

	// ErrBudgetExceeded means the builder could not fit even the most recent
	// turn into the budget. Surfaced to the caller.
	ErrBudgetExceeded = errors.New("context budget exceeded")

	// ErrSummarizationDegraded marks a summarization that failed or timed out
	// and fell back to the prior summary. Logged, never user-visible.
	ErrSummarizationDegraded = errors.New("summarization degraded")

	// ErrServiceUnavailable means the completion or embedding service is down.
	// The batch path leaves the session's marker in place for the next sweep.
	ErrServiceUnavailable = errors.New("service unavailable")
)
