package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-intel/internal/model"
)

// mergeColumns are the scalar place columns governed by the fill-only
// merge policy. Order matters: updateArgs emits values in this order.
// last_seen is deliberately absent — it always takes the incoming value —
// and the classification block is written only by WriteClassification.
var mergeColumns = []string{
	"name",
	"address",
	"phone",
	"website",
	"rating",
	"review_count",
	"lat",
	"lng",
	"primary_type",
	"types_json",
	"business_status",
	"maps_url",
	"opening_hours_json",
}

// upsertColumns is the full insert column list for an upsert.
var upsertColumns = append([]string{"place_id"}, append(append([]string{}, mergeColumns...), "first_seen", "last_seen")...)

// mergeSetClauses renders the single reconciliation rule every write site
// shares: last_seen always advances, everything else is COALESCE fill-only.
// Both SQLite and Postgres spell this identically via the excluded alias.
func mergeSetClauses() string {
	clauses := make([]string, 0, len(mergeColumns)+1)
	clauses = append(clauses, "last_seen = excluded.last_seen")
	for _, col := range mergeColumns {
		clauses = append(clauses, fmt.Sprintf("%s = COALESCE(excluded.%s, places.%s)", col, col, col))
	}
	return strings.Join(clauses, ",\n\t")
}

// mergeUpdates collapses duplicate place ids within one batch, applying
// the same fill-then-overwrite semantics sequential upserts would: a later
// non-nil value wins, a later nil never erases. Needed because a single
// INSERT ... ON CONFLICT statement cannot touch the same row twice.
// Updates with an empty id are dropped.
func mergeUpdates(updates []model.PlaceUpdate) []model.PlaceUpdate {
	var order []string
	byID := make(map[string]*model.PlaceUpdate)

	for _, u := range updates {
		if u.PlaceID == "" {
			continue
		}
		prev, ok := byID[u.PlaceID]
		if !ok {
			cp := u
			byID[u.PlaceID] = &cp
			order = append(order, u.PlaceID)
			continue
		}
		overlayUpdate(prev, u)
	}

	out := make([]model.PlaceUpdate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func overlayUpdate(dst *model.PlaceUpdate, src model.PlaceUpdate) {
	if src.Name != nil {
		dst.Name = src.Name
	}
	if src.Address != nil {
		dst.Address = src.Address
	}
	if src.Phone != nil {
		dst.Phone = src.Phone
	}
	if src.Website != nil {
		dst.Website = src.Website
	}
	if src.Rating != nil {
		dst.Rating = src.Rating
	}
	if src.ReviewCount != nil {
		dst.ReviewCount = src.ReviewCount
	}
	if src.Lat != nil {
		dst.Lat = src.Lat
	}
	if src.Lng != nil {
		dst.Lng = src.Lng
	}
	if src.PrimaryType != nil {
		dst.PrimaryType = src.PrimaryType
	}
	if src.Types != nil {
		dst.Types = src.Types
	}
	if src.BusinessStatus != nil {
		dst.BusinessStatus = src.BusinessStatus
	}
	if src.MapsURL != nil {
		dst.MapsURL = src.MapsURL
	}
	if len(src.OpeningHours) > 0 {
		dst.OpeningHours = src.OpeningHours
	}
}

// upsertArgs flattens a PlaceUpdate into insert arguments matching
// upsertColumns. Nil pointers become SQL NULLs, which the COALESCE clauses
// then ignore on conflict.
func upsertArgs(u model.PlaceUpdate, now time.Time) ([]any, error) {
	var typesJSON *string
	if u.Types != nil {
		b, err := json.Marshal(u.Types)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal types for %s", u.PlaceID)
		}
		s := string(b)
		typesJSON = &s
	}

	var hoursJSON *string
	if len(u.OpeningHours) > 0 {
		if !json.Valid(u.OpeningHours) {
			return nil, eris.Errorf("store: invalid opening hours JSON for %s", u.PlaceID)
		}
		s := string(u.OpeningHours)
		hoursJSON = &s
	}

	return []any{
		u.PlaceID,
		u.Name,
		u.Address,
		u.Phone,
		u.Website,
		u.Rating,
		u.ReviewCount,
		u.Lat,
		u.Lng,
		u.PrimaryType,
		typesJSON,
		u.BusinessStatus,
		u.MapsURL,
		hoursJSON,
		now, // first_seen, kept only on insert
		now, // last_seen, always advanced
	}, nil
}
