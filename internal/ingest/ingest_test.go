package ingest

import "github.com/chanforge/chanforge/internal/model"

// recordingReporter captures every Stage call for assertions; a nil report
// receiver would panic, so ingestors always get one of these in tests.
type recordingReporter struct {
	calls []stageCall
}

type stageCall struct {
	StageID     string
	Percentage  float64
	State       model.ProgressState
	CurrentStep string
}

func (r *recordingReporter) Stage(stageID string, percentage float64, state model.ProgressState, currentStep string) {
	r.calls = append(r.calls, stageCall{stageID, percentage, state, currentStep})
}
