package model

import "time"

// StageCounters accumulates per-stage session statistics across runs.
type StageCounters struct {
	TotalProcessed int `json:"total_processed"`
	WebsitesFound  int `json:"websites_found"`
	LinkedInFound  int `json:"linkedin_found"`
	NoResultCount  int `json:"no_result_count"`
}

// StageState is the resumability contract for one enrichment stage of one
// stream. Invariants: LastProcessedID equals the max of ProcessedIDs and
// never decreases; an entry is eligible for the stage only if its id is
// absent from ProcessedIDs.
type StageState struct {
	Stream          Stream         `json:"stream"`
	Stage           Stage          `json:"stage"`
	LastProcessedID int64          `json:"last_processed_id"`
	ProcessedIDs    map[int64]bool `json:"processed_ids"`
	Counters        StageCounters  `json:"counters"`
	LastRunAt       time.Time      `json:"last_run_at"`
}

// NewStageState returns the zero state for a stream/stage pair.
func NewStageState(stream Stream, stage Stage) StageState {
	return StageState{
		Stream:       stream,
		Stage:        stage,
		ProcessedIDs: make(map[int64]bool),
	}
}

// Processed reports whether the entry id has already completed this stage.
func (s *StageState) Processed(id int64) bool {
	return s.ProcessedIDs[id]
}

// Mark records an entry as processed and advances the cursor monotonically.
func (s *StageState) Mark(id int64) {
	if s.ProcessedIDs == nil {
		s.ProcessedIDs = make(map[int64]bool)
	}
	s.ProcessedIDs[id] = true
	if id > s.LastProcessedID {
		s.LastProcessedID = id
	}
}
