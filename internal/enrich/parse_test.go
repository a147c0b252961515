package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

func TestParse_AllFields(t *testing.T) {
	text := `SUMMARY: Family-owned HVAC contractor in Texas
VERTICAL: Home Services
WEBSITE: https://coolairtx.com
COMPATIBILITY_RATING: 8`

	fields, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "Family-owned HVAC contractor in Texas", fields.Summary)
	assert.Equal(t, "Home Services", fields.Vertical)
	assert.Equal(t, "https://coolairtx.com", fields.Website)
	assert.Equal(t, "8", fields.CompatibilityRating)
}

func TestParse_MissingWebsiteLineGetsSentinel(t *testing.T) {
	text := `SUMMARY: Runs a marketing agency
VERTICAL: Marketing
COMPATIBILITY_RATING: 6`

	fields, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "Runs a marketing agency", fields.Summary)
	assert.Equal(t, "Marketing", fields.Vertical)
	assert.Equal(t, model.SentinelWebsite, fields.Website)
	assert.Equal(t, "6", fields.CompatibilityRating)
}

func TestParse_EmptyValueGetsSentinel(t *testing.T) {
	fields, err := Parse("SUMMARY:\nVERTICAL: Retail")
	require.NoError(t, err)
	assert.Equal(t, model.SentinelSummary, fields.Summary)
	assert.Equal(t, "Retail", fields.Vertical)
}

func TestParse_Unparseable(t *testing.T) {
	fields, err := Parse("I could not determine anything about this message.")
	require.Error(t, err)
	assert.Equal(t, model.FallbackAnalysis(), fields)
}

func TestParse_IgnoresSurroundingProse(t *testing.T) {
	text := `Here is my assessment:

SUMMARY: Sells handmade furniture
VERTICAL: Retail
WEBSITE: Website not provided
COMPATIBILITY_RATING: 4

Let me know if you need more detail.`

	fields, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "Sells handmade furniture", fields.Summary)
	assert.Equal(t, model.SentinelWebsite, fields.Website)
}
