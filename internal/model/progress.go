package model

import "time"

// ProgressState is a stage or operation's lifecycle state.
type ProgressState string

const (
	StateIdle        ProgressState = "Idle"
	StatePreparing   ProgressState = "Preparing"
	StateConnecting  ProgressState = "Connecting"
	StateDownloading ProgressState = "Downloading"
	StateProcessing  ProgressState = "Processing"
	StateSaving      ProgressState = "Saving"
	StateCleanup     ProgressState = "Cleanup"
	StateCompleted   ProgressState = "Completed"
	StateError       ProgressState = "Error"
	StateCancelled   ProgressState = "Cancelled"
)

// OperationType distinguishes an ingestion run from a proxy regeneration.
type OperationType string

const (
	OperationIngestion    OperationType = "ingestion"
	OperationRegeneration OperationType = "regeneration"
)

// Stage is one named step of a multi-stage operation.
type Stage struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Percentage  float64       `json:"percentage"`
	State       ProgressState `json:"state"`
	CurrentStep string        `json:"stage_step"`
}

// ProgressRecord is the universal progress envelope for one ingestion or
// regeneration operation, matching the "Progress stream" wire shape in the
// external interfaces section.
type ProgressRecord struct {
	OwnerID           string        `json:"owner_id"`
	OwnerType         string        `json:"owner_type"`
	OperationType     OperationType `json:"operation_type"`
	OperationName     string        `json:"operation_name"`
	State             ProgressState `json:"state"`
	CurrentStage      string        `json:"current_stage"`
	OverallPercentage float64       `json:"overall_percentage"`
	Stages            []Stage       `json:"stages"`
	StartedAt         time.Time     `json:"started_at"`
	LastUpdate        time.Time     `json:"last_update"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Error             string        `json:"error,omitempty"`
}
