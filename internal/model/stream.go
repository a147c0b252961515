package model

// Stream identifies one of the two independent DM data flows. All durable
// state (run history, ledger, stage cursors) is keyed by stream, so the same
// engine code serves both.
type Stream string

const (
	// StreamMessages is the regular DM inbox.
	StreamMessages Stream = "messages"
	// StreamRequests is the message-requests inbox.
	StreamRequests Stream = "message_requests"
)

// AllStreams lists every stream in processing order.
func AllStreams() []Stream {
	return []Stream{StreamMessages, StreamRequests}
}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	return s == StreamMessages || s == StreamRequests
}

// Stage identifies one resumable step of the enrichment pipeline. Each stage
// keeps its own cursor and processed-id set.
type Stage string

const (
	// StageAnalysis is the AI business-analysis stage.
	StageAnalysis Stage = "analysis"
	// StageDiscovery is the website/LinkedIn discovery stage.
	StageDiscovery Stage = "discovery"
	// StageUpload is the search-result sync back to the external table.
	StageUpload Stage = "upload"
)
