package model

// Sentinel values stand in for "field intentionally absent". They are
// distinct from the empty string: downstream eligibility predicates match on
// them (the discovery stage only considers entries whose website equals
// SentinelWebsite), so they must survive serialization round-trips verbatim.
const (
	SentinelSummary  = "Analysis incomplete"
	SentinelVertical = "N/A"
	SentinelWebsite  = "Website not provided"
	SentinelRating   = "0"

	SentinelNoWebsite  = "No search result found"
	SentinelNoLinkedIn = "No LinkedIn profile found"
)

// FallbackAnalysis returns analysis fields with every slot set to its
// sentinel, used when the AI response cannot be parsed at all.
func FallbackAnalysis() AnalysisFields {
	return AnalysisFields{
		Summary:             SentinelSummary,
		Vertical:            SentinelVertical,
		Website:             SentinelWebsite,
		CompatibilityRating: SentinelRating,
	}
}

// ApplyFallbacks fills any empty analysis field with its sentinel. Present
// fields are preserved verbatim.
func (f AnalysisFields) ApplyFallbacks() AnalysisFields {
	if f.Summary == "" {
		f.Summary = SentinelSummary
	}
	if f.Vertical == "" {
		f.Vertical = SentinelVertical
	}
	if f.Website == "" {
		f.Website = SentinelWebsite
	}
	if f.CompatibilityRating == "" {
		f.CompatibilityRating = SentinelRating
	}
	return f
}
