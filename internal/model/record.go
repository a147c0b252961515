package model

import "time"

// Conversation is the projection of one scraped conversation or message
// request: the sender and the last message visible in the inbox list.
// Timestamp is the platform's display timestamp, kept verbatim; the UI
// renders relative times ("2h") that cannot be parsed reliably.
type Conversation struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	LastMessage string `json:"last_message"`
	Timestamp   string `json:"timestamp"`
}

// RunRecord is the durable snapshot of one capture run for a stream. RunID
// increments by 1 per stream starting at 1; only the newest 10 runs are
// retained.
type RunRecord struct {
	RunID      int64          `json:"run_id"`
	Stream     Stream         `json:"stream"`
	CapturedAt time.Time      `json:"captured_at"`
	TotalCount int            `json:"total_count"`
	HasNewData bool           `json:"has_new_data"`
	Records    []Conversation `json:"records"`
}

// CleanedEntry is the canonical deduplicated record all downstream stages
// key off of. ID is unique and strictly increasing within a stream's ledger;
// entries are immutable once written.
type CleanedEntry struct {
	ID         int64     `json:"id"`
	Stream     Stream    `json:"stream"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	Timestamp  string    `json:"timestamp"`
	DetectedAt time.Time `json:"detected_at"`
}

// AnalysisFields is the structured output of the business-analysis stage.
// Missing fields carry the documented sentinels rather than empty strings.
type AnalysisFields struct {
	Summary             string `json:"summary"`
	Vertical            string `json:"vertical"`
	Website             string `json:"website"`
	CompatibilityRating string `json:"compatibility_rating"`
}

// EnrichedEntry is a CleanedEntry plus its analysis fields.
type EnrichedEntry struct {
	CleanedEntry
	AnalysisFields
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// SearchStatus marks a discovery lookup as found or not.
type SearchStatus string

const (
	SearchFound    SearchStatus = "found"
	SearchNotFound SearchStatus = "not_found"
)

// SearchOutcome is one discovery lookup result. Result holds either a
// validated URL or the stage's "not found" sentinel.
type SearchOutcome struct {
	Result string       `json:"result"`
	Status SearchStatus `json:"status"`
}

// SearchResult records the discovery stage's output for one ledger entry.
type SearchResult struct {
	ID          int64         `json:"id"`
	Stream      Stream        `json:"stream"`
	CompanyName string        `json:"company_name"`
	Website     SearchOutcome `json:"website"`
	LinkedIn    SearchOutcome `json:"linkedin"`
	SearchedAt  time.Time     `json:"searched_at"`
}
