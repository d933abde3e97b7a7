package types

import "time"

// Checkpoint is the process-level campaign position: which model runs next
// and how many consecutive failed attempts it has had.
type Checkpoint struct {
	ModelIndex int       `json:"modelIndex"`
	RetryCount int       `json:"retryCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// QueueItem is one listing awaiting a replay pass.
type QueueItem struct {
	ID  string
	URL string
	// Model is the filesystem-safe name of the model that queued the
	// listing. Empty for records written without one.
	Model string
}

// RunRecord summarises one campaign attempt for the run history.
type RunRecord struct {
	RunID      string
	Model      string
	Attempt    int
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string // "ok" or "failed"
	Vehicles   int
	Pages      int
	ExitReason string
	Error      string
}
