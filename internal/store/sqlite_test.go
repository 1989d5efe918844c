package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-intel/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func discoveryHit(id, name string) model.PlaceUpdate {
	return model.PlaceUpdate{
		PlaceID:     id,
		Name:        model.StringPtr(name),
		Address:     model.StringPtr("123 Water St"),
		Lat:         model.Float64Ptr(47.56),
		Lng:         model.Float64Ptr(-52.71),
		PrimaryType: model.StringPtr("plumber"),
		Types:       []string{"plumber", "contractor"},
	}
}

func fullClassification() model.Classification {
	return model.Classification{
		IndustryBucket:   "Trades",
		MobilityFit:      90,
		SecurityFit:      40,
		VoipFit:          55,
		FleetAttach:      70,
		SignalAfterHours: 1,
		SignalDispatch:   1,
		SignalFieldWork:  1,
		Reason:           "Field service trade with dispatch patterns.",
	}
}

// --- Upsert / merge ---

func TestSQLite_UpsertPlace_InsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "Harbour Plumbing")))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p1", p.PlaceID)
	assert.Equal(t, "Harbour Plumbing", model.Deref(p.Name))
	assert.Equal(t, []string{"plumber", "contractor"}, p.Types)
	assert.Nil(t, p.Phone)
	assert.False(t, p.FirstSeen.IsZero())
	assert.False(t, p.LastSeen.IsZero())
}

func TestSQLite_GetPlace_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	p, err := st.GetPlace(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLite_UpsertPlace_EmptyIDIsNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{Name: model.StringPtr("ghost")}))

	ids, err := st.AllPlaceIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLite_Merge_NilNeverErases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1",
		Name:    model.StringPtr("Harbour Plumbing"),
		Phone:   model.StringPtr("+1 709-555-0101"),
		Website: model.StringPtr("https://harbour.example"),
	}))

	// A later discovery hit carries no contact fields.
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1",
		Name:    model.StringPtr("Harbour Plumbing"),
	}))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "+1 709-555-0101", model.Deref(p.Phone))
	assert.Equal(t, "https://harbour.example", model.Deref(p.Website))
}

func TestSQLite_Merge_NonNilOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1",
		Rating:  model.Float64Ptr(3.9),
		Website: model.StringPtr("https://old.example"),
	}))
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1",
		Rating:  model.Float64Ptr(4.4),
		Website: model.StringPtr("https://new.example"),
	}))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4.4, *p.Rating)
	assert.Equal(t, "https://new.example", model.Deref(p.Website))
}

func TestSQLite_Merge_LastSeenAdvancesFirstSeenStable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	p1, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{PlaceID: "p1"}))

	p2, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p2.LastSeen.After(p1.LastSeen), "last_seen must advance")
	assert.Equal(t, p1.FirstSeen.Unix(), p2.FirstSeen.Unix(), "first_seen must not change")
}

func TestSQLite_Merge_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u := discoveryHit("p1", "Harbour Plumbing")
	u.Phone = model.StringPtr("+1 709-555-0101")

	require.NoError(t, st.UpsertPlace(ctx, u))
	p1, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, st.UpsertPlace(ctx, u))
	p2, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)

	p1.LastSeen, p2.LastSeen = time.Time{}, time.Time{}
	assert.Equal(t, p1, p2)
}

func TestSQLite_UpsertPlaces_BatchDedupes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertPlaces(ctx, []model.PlaceUpdate{
		{PlaceID: "p1", Name: model.StringPtr("First")},
		{PlaceID: "", Name: model.StringPtr("dropped")},
		{PlaceID: "p2", Name: model.StringPtr("Other")},
		{PlaceID: "p1", Phone: model.StringPtr("+1 709-555-0101")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "First", model.Deref(p.Name))
	assert.Equal(t, "+1 709-555-0101", model.Deref(p.Phone))
}

func TestSQLite_TouchLastSeen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	before, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	// Unknown ids are ignored, empty input is fine.
	require.NoError(t, st.TouchLastSeen(ctx, nil))
	require.NoError(t, st.TouchLastSeen(ctx, []string{"p1", "ghost"}))

	after, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, after.LastSeen.After(before.LastSeen))
	assert.Equal(t, model.Deref(before.Name), model.Deref(after.Name))
}

func TestSQLite_ExistingPlaceIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p2", "B")))

	existing, err := st.ExistingPlaceIDs(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, "p1")
	assert.Contains(t, existing, "p2")
	assert.NotContains(t, existing, "p3")
}

// --- Enrichment oracle ---

func TestSQLite_NeedsDetails(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Unknown record: fetch.
	need, err := st.NeedsDetails(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, need)

	// Discovery-only record: fetch.
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	need, err = st.NeedsDetails(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, need)

	// Phone without maps link: still fetch.
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1", Phone: model.StringPtr("+1 709-555-0101"),
	}))
	need, err = st.NeedsDetails(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, need)

	// Phone and maps link present: done, even with no website.
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1", MapsURL: model.StringPtr("https://maps.example/p1"),
	}))
	need, err = st.NeedsDetails(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, need)
}

// --- Classification oracle ---

func TestSQLite_ShouldClassify_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Unknown record.
	should, err := st.ShouldClassify(ctx, "ghost", nil)
	require.NoError(t, err)
	assert.True(t, should)

	// Never classified.
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	should, err = st.ShouldClassify(ctx, "p1", nil)
	require.NoError(t, err)
	assert.True(t, should)

	// Fully classified, no website anywhere: settled.
	require.NoError(t, st.WriteClassification(ctx, "p1", fullClassification()))
	should, err = st.ShouldClassify(ctx, "p1", nil)
	require.NoError(t, err)
	assert.False(t, should)

	// A website appears where none was stored: reclassify.
	should, err = st.ShouldClassify(ctx, "p1", model.StringPtr("https://new.example"))
	require.NoError(t, err)
	assert.True(t, should)

	// Store the website and classify again: settled for that website.
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID: "p1", Website: model.StringPtr("https://new.example"),
	}))
	require.NoError(t, st.WriteClassification(ctx, "p1", fullClassification()))
	should, err = st.ShouldClassify(ctx, "p1", model.StringPtr("https://new.example"))
	require.NoError(t, err)
	assert.False(t, should)

	// Website drift: reclassify.
	should, err = st.ShouldClassify(ctx, "p1", model.StringPtr("https://moved.example"))
	require.NoError(t, err)
	assert.True(t, should)

	// Current website unknown while one is stored: stored verdict stands.
	should, err = st.ShouldClassify(ctx, "p1", nil)
	require.NoError(t, err)
	assert.False(t, should)
}

func TestSQLite_ShouldClassify_PartialBlockSelfHeals(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	require.NoError(t, st.WriteClassification(ctx, "p1", fullClassification()))

	// Simulate a torn historical write.
	_, err := st.db.ExecContext(ctx, "UPDATE places SET voip_fit = NULL WHERE place_id = ?", "p1")
	require.NoError(t, err)

	should, err := st.ShouldClassify(ctx, "p1", nil)
	require.NoError(t, err)
	assert.True(t, should)
}

// --- Classification / score writes ---

func TestSQLite_WriteClassification_Roundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	require.NoError(t, st.WriteClassification(ctx, "p1", fullClassification()))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Trades", model.Deref(p.IndustryBucket))
	assert.Equal(t, int64(90), *p.MobilityFit)
	assert.Equal(t, int64(1), *p.SignalDispatch)
	assert.NotNil(t, p.AILastUpdated)
	assert.True(t, p.Classified())
}

func TestSQLite_WriteClassification_TruncatesReason(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))

	c := fullClassification()
	c.Reason = strings.Repeat("é", 500)
	require.NoError(t, st.WriteClassification(ctx, "p1", c))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 400, len([]rune(model.Deref(p.AIReason))))
}

func TestSQLite_WriteClassification_UnknownIDIsNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.WriteClassification(ctx, "ghost", fullClassification()))

	ids, err := st.AllPlaceIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLite_WriteScore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "A")))
	require.NoError(t, st.WriteScore(ctx, "p1", 61.5))
	require.NoError(t, st.WriteScore(ctx, "p1", 72.0))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 72.0, *p.TotalScore)

	// Unknown id is a no-op, not an error.
	require.NoError(t, st.WriteScore(ctx, "ghost", 10))
}

// --- Selections ---

func TestSQLite_SelectForClassification_OrderAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("old", "Old")))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("fresh", "Fresh")))

	cands, err := st.SelectForClassification(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "fresh", cands[0].PlaceID)
	assert.Equal(t, "old", cands[1].PlaceID)

	cands, err = st.SelectForClassification(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "fresh", cands[0].PlaceID)
}

func TestSQLite_SelectForExport_ExcludesClosed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("open", "Open Shop")))
	closed := discoveryHit("closed", "Gone Shop")
	closed.BusinessStatus = model.StringPtr(model.StatusClosedPermanently)
	require.NoError(t, st.UpsertPlace(ctx, closed))

	places, err := st.SelectForExport(ctx)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "open", places[0].PlaceID)

	// The closed record is retained, just invisible to exports.
	p, err := st.GetPlace(ctx, "closed")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.ExportVisible())
}

func TestSQLite_OpeningHoursRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	hours := json.RawMessage(`{"weekdayDescriptions":["Mon: 9-5"]}`)
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID:      "p1",
		OpeningHours: hours,
	}))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, string(hours), string(p.OpeningHours))

	// Invalid JSON is rejected before it reaches the row.
	err = st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID:      "p1",
		OpeningHours: json.RawMessage(`{broken`),
	})
	assert.Error(t, err)
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.StartRun(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stats := RunStats{Discovered: 120, NewPlaces: 30, Enriched: 25, Classified: 10, Scored: 10, Exported: 115}
	require.NoError(t, st.CompleteRun(ctx, id, stats, nil))

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, stats, runs[0].Stats)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Nil(t, runs[0].Error)
}

func TestSQLite_RunLifecycle_Failure(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, id, RunStats{Discovered: 5}, context.DeadlineExceeded))

	runs, err := st.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "deadline")
}

// --- End to end merge scenario ---

func TestSQLite_DiscoverEnrichReconcile(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Discovery pass: identity only.
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "Harbour Plumbing")))

	// Enrichment pass: contact fields arrive.
	require.NoError(t, st.UpsertPlace(ctx, model.PlaceUpdate{
		PlaceID:      "p1",
		Phone:        model.StringPtr("+1 709-555-0101"),
		Website:      model.StringPtr("https://harbour.example"),
		Rating:       model.Float64Ptr(4.6),
		ReviewCount:  model.Int64Ptr(38),
		MapsURL:      model.StringPtr("https://maps.example/p1"),
		OpeningHours: json.RawMessage(`{"openNow":true}`),
	}))

	// A later, sparser discovery pass must not regress anything.
	require.NoError(t, st.UpsertPlace(ctx, discoveryHit("p1", "Harbour Plumbing")))

	p, err := st.GetPlace(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "+1 709-555-0101", model.Deref(p.Phone))
	assert.Equal(t, "https://harbour.example", model.Deref(p.Website))
	assert.Equal(t, 4.6, *p.Rating)
	assert.Equal(t, int64(38), *p.ReviewCount)

	need, err := st.NeedsDetails(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, need, "enriched place must not be re-fetched")
}
