package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-intel/internal/model"
)

func scoredPlace(id, name string, score float64) *model.Place {
	return &model.Place{
		PlaceID:        id,
		Name:           model.StringPtr(name),
		Phone:          model.StringPtr("+1 709-555-0101"),
		Website:        model.StringPtr("https://" + id + ".example"),
		Address:        model.StringPtr("123 Water St"),
		PrimaryType:    model.StringPtr("plumber"),
		IndustryBucket: model.StringPtr("Trades"),
		MobilityFit:    model.Int64Ptr(80),
		SecurityFit:    model.Int64Ptr(40),
		VoipFit:        model.Int64Ptr(50),
		FleetAttach:    model.Int64Ptr(60),
		Rating:         model.Float64Ptr(4.5),
		ReviewCount:    model.Int64Ptr(30),
		TotalScore:     model.Float64Ptr(score),
		AIReason:       model.StringPtr("Field service trade."),
	}
}

func TestWriteCSV_RankedOutput(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []*model.Place{
		scoredPlace("low", "Low Co", 21.5),
		scoredPlace("high", "High Co", 88),
		{PlaceID: "unscored", Name: model.StringPtr("Unscored Co")},
		scoredPlace("mid", "Mid Co", 55),
	})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, csvHeader, records[0])

	names := []string{records[1][0], records[2][0], records[3][0], records[4][0]}
	assert.Equal(t, []string{"High Co", "Mid Co", "Low Co", "Unscored Co"}, names,
		"highest score first, unscored last")

	// Spot-check one full row.
	high := records[1]
	assert.Equal(t, "+1 709-555-0101", high[1])
	assert.Equal(t, "Trades", high[5])
	assert.Equal(t, "80", high[6])
	assert.Equal(t, "4.5", high[10])
	assert.Equal(t, "88", high[12])
}

func TestWriteCSV_NilFieldsAreEmptyCells(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []*model.Place{{PlaceID: "bare"}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, cell := range records[1] {
		assert.Empty(t, cell)
	}
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1, "header only")
}

func TestWriteFile_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "nested", "ranked.csv")
	require.NoError(t, WriteFile(path, []*model.Place{scoredPlace("p1", "A", 50)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "A")
}
