package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanOutput = `{
	"industry_bucket": "Trades",
	"mobility_fit": 85,
	"security_fit": 40,
	"voip_fit": 55,
	"fleet_attach": 70,
	"signal_after_hours": 1,
	"signal_dispatch": 1,
	"signal_field_work": 1,
	"ai_reason": "Field service trade with dispatch patterns."
}`

func TestParseClassification_Strict(t *testing.T) {
	c, err := ParseClassification(cleanOutput)
	require.NoError(t, err)
	assert.Equal(t, "Trades", c.IndustryBucket)
	assert.Equal(t, int64(85), c.MobilityFit)
	assert.Equal(t, int64(1), c.SignalDispatch)
	assert.Equal(t, "Field service trade with dispatch patterns.", c.Reason)
}

func TestParseClassification_StripsCodeFence(t *testing.T) {
	fenced := "```json\n" + cleanOutput + "\n```"
	c, err := ParseClassification(fenced)
	require.NoError(t, err)
	assert.Equal(t, "Trades", c.IndustryBucket)
}

func TestParseClassification_ExtractsObjectFromProse(t *testing.T) {
	wrapped := "Here is my assessment:\n" + cleanOutput + "\nLet me know if you need more."
	c, err := ParseClassification(wrapped)
	require.NoError(t, err)
	assert.Equal(t, int64(70), c.FleetAttach)
}

func TestParseClassification_RepairClampsRanges(t *testing.T) {
	raw := `{
		"industry_bucket": "Logistics",
		"mobility_fit": 150,
		"security_fit": -20,
		"voip_fit": 54.6,
		"fleet_attach": "85%",
		"signal_after_hours": true,
		"signal_dispatch": false,
		"signal_field_work": 3,
		"ai_reason": "Trucks everywhere."
	}`
	c, err := ParseClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.MobilityFit)
	assert.Equal(t, int64(0), c.SecurityFit)
	assert.Equal(t, int64(55), c.VoipFit, "floats round half up")
	assert.Equal(t, int64(85), c.FleetAttach, "percent strings coerce")
	assert.Equal(t, int64(1), c.SignalAfterHours)
	assert.Equal(t, int64(0), c.SignalDispatch)
	assert.Equal(t, int64(1), c.SignalFieldWork, "signals clamp to 0/1")
}

func TestParseClassification_RepairDefaults(t *testing.T) {
	c, err := ParseClassification(`{"mobility_fit": 60, "extra_field": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", c.IndustryBucket)
	assert.Equal(t, "No reason provided.", c.Reason)
	assert.Equal(t, int64(60), c.MobilityFit)
	assert.Zero(t, c.SecurityFit)
}

func TestParseClassification_TruncatesLongFields(t *testing.T) {
	longBucket := strings.Repeat("b", 120)
	longReason := strings.Repeat("r", 500)
	c, err := ParseClassification(
		`{"industry_bucket": "` + longBucket + `", "ai_reason": "` + longReason + `"}`)
	require.NoError(t, err)
	assert.Len(t, c.IndustryBucket, maxBucketChars)
	assert.Len(t, c.Reason, maxReasonChars)
}

func TestParseClassification_Unparseable(t *testing.T) {
	_, err := ParseClassification("I cannot classify this business.")
	assert.Error(t, err)

	_, err = ParseClassification("")
	assert.Error(t, err)

	_, err = ParseClassification("{definitely not json}")
	assert.Error(t, err)
}

func TestToInt(t *testing.T) {
	assert.Equal(t, int64(1), toInt(true, 0, 1))
	assert.Equal(t, int64(0), toInt(false, 0, 1))
	assert.Equal(t, int64(85), toInt(84.6, 0, 100))
	assert.Equal(t, int64(85), toInt("eighty five / 85", 0, 100))
	assert.Equal(t, int64(0), toInt("none", 0, 100))
	assert.Equal(t, int64(0), toInt(nil, 0, 100))
	assert.Equal(t, int64(100), toInt(250.0, 0, 100))
	assert.Equal(t, int64(0), toInt(-3.0, 0, 100))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
