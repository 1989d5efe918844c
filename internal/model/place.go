// Package model defines the domain types shared across the territory
// pipeline: places, partial place updates, and classifications.
package model

import (
	"encoding/json"
	"time"
)

// StatusClosedPermanently is the Places API business status that makes a
// record invisible to exports. The record itself is never deleted.
const StatusClosedPermanently = "CLOSED_PERMANENTLY"

// Place is one business record, keyed by its Google place ID. Every field
// other than the ID and the lifecycle timestamps is filled opportunistically
// from whichever API call supplied it first; nil means "never observed".
type Place struct {
	PlaceID        string          `json:"place_id"`
	Name           *string         `json:"name,omitempty"`
	Address        *string         `json:"address,omitempty"`
	Phone          *string         `json:"phone,omitempty"`
	Website        *string         `json:"website,omitempty"`
	Rating         *float64        `json:"rating,omitempty"`
	ReviewCount    *int64          `json:"review_count,omitempty"`
	Lat            *float64        `json:"lat,omitempty"`
	Lng            *float64        `json:"lng,omitempty"`
	PrimaryType    *string         `json:"primary_type,omitempty"`
	Types          []string        `json:"types,omitempty"`
	BusinessStatus *string         `json:"business_status,omitempty"`
	MapsURL        *string         `json:"maps_url,omitempty"`
	OpeningHours   json.RawMessage `json:"opening_hours,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Classification block. Either all of these are set (with AILastUpdated)
	// or none are.
	IndustryBucket   *string    `json:"industry_bucket,omitempty"`
	MobilityFit      *int64     `json:"mobility_fit,omitempty"`
	SecurityFit      *int64     `json:"security_fit,omitempty"`
	VoipFit          *int64     `json:"voip_fit,omitempty"`
	FleetAttach      *int64     `json:"fleet_attach,omitempty"`
	SignalAfterHours *int64     `json:"signal_after_hours,omitempty"`
	SignalDispatch   *int64     `json:"signal_dispatch,omitempty"`
	SignalFieldWork  *int64     `json:"signal_field_work,omitempty"`
	AIReason         *string    `json:"ai_reason,omitempty"`
	AILastUpdated    *time.Time `json:"ai_last_updated,omitempty"`

	// Derived ranking score, defined only once classified.
	TotalScore *float64 `json:"total_score,omitempty"`
}

// Classified reports whether the classification block is populated.
func (p *Place) Classified() bool {
	return p.AILastUpdated != nil
}

// ExportVisible reports whether the place should appear in exports.
func (p *Place) ExportVisible() bool {
	return p.BusinessStatus == nil || *p.BusinessStatus != StatusClosedPermanently
}

// PlaceUpdate is a partial write against a place. Nil fields are "not
// supplied" and never clobber stored values; non-nil fields overwrite.
// Types and OpeningHours follow the same rule with nil slices.
type PlaceUpdate struct {
	PlaceID        string
	Name           *string
	Address        *string
	Phone          *string
	Website        *string
	Rating         *float64
	ReviewCount    *int64
	Lat            *float64
	Lng            *float64
	PrimaryType    *string
	Types          []string
	BusinessStatus *string
	MapsURL        *string
	OpeningHours   json.RawMessage
}

// Classification is a validated classifier result, written to the store as
// an all-or-nothing block.
type Classification struct {
	IndustryBucket   string `json:"industry_bucket"`
	MobilityFit      int64  `json:"mobility_fit"`
	SecurityFit      int64  `json:"security_fit"`
	VoipFit          int64  `json:"voip_fit"`
	FleetAttach      int64  `json:"fleet_attach"`
	SignalAfterHours int64  `json:"signal_after_hours"`
	SignalDispatch   int64  `json:"signal_dispatch"`
	SignalFieldWork  int64  `json:"signal_field_work"`
	Reason           string `json:"ai_reason"`
}

// Candidate is the projection of a place handed to the classifier.
type Candidate struct {
	PlaceID     string
	Name        *string
	Address     *string
	Website     *string
	PrimaryType *string
}

// String helpers for pointer-heavy call sites.

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }

// Int64Ptr returns a pointer to i.
func Int64Ptr(i int64) *int64 { return &i }

// Deref returns the value of s, or "" when nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
