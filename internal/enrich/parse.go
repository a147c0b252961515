package enrich

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

// Parse decodes the model's line-prefix response into analysis fields. It is
// best effort: any field whose line is missing or empty gets its sentinel,
// and the returned error only reports that nothing usable was found. Callers
// persist the fields either way; a malformed response never blocks an entry.
func Parse(text string) (model.AnalysisFields, error) {
	var f model.AnalysisFields
	matched := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SUMMARY:"):
			f.Summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
			matched = true
		case strings.HasPrefix(line, "VERTICAL:"):
			f.Vertical = strings.TrimSpace(strings.TrimPrefix(line, "VERTICAL:"))
			matched = true
		case strings.HasPrefix(line, "WEBSITE:"):
			f.Website = strings.TrimSpace(strings.TrimPrefix(line, "WEBSITE:"))
			matched = true
		case strings.HasPrefix(line, "COMPATIBILITY_RATING:"):
			f.CompatibilityRating = strings.TrimSpace(strings.TrimPrefix(line, "COMPATIBILITY_RATING:"))
			matched = true
		}
	}

	f = f.ApplyFallbacks()
	if !matched {
		return f, eris.New("enrich: no recognizable fields in response")
	}
	return f, nil
}
