package model

import "time"

// RunStatus tracks a collection run through its lifecycle.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary is the persisted outcome of a completed collection run.
type RunSummary struct {
	Input    int `json:"input"`
	Kept     int `json:"kept"`
	Outliers int `json:"outliers"`
	Buckets  int `json:"buckets"`
	Success  int `json:"success"`
	Sparse   int `json:"sparse"`
}

// CollectionRun is one ingest-normalize cycle over a source dump.
type CollectionRun struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
