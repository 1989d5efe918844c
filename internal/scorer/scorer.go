// Package scorer computes the deterministic 0-100 ranking score from
// classification fits and quality signals. Pure math, no I/O.
package scorer

import "github.com/sells-group/territory-intel/internal/model"

// Mobility-first weighting: mobility dominates, then security, VoIP, fleet.
const (
	weightMobility = 0.55
	weightSecurity = 0.20
	weightVoip     = 0.15
	weightFleet    = 0.10
)

// Boost thresholds and the flat bonus each satisfied signal adds.
const (
	boostPoints       = 5.0
	ratingBoostMin    = 4.2
	reviewCountBoost  = 10
	maxScore          = 100.0
)

// Inputs are the signals the score is derived from. Nil fit scores count
// as zero so partially classified records rank at the bottom rather than
// erroring.
type Inputs struct {
	MobilityFit     *int64
	SecurityFit     *int64
	VoipFit         *int64
	FleetAttach     *int64
	Rating          *float64
	ReviewCount     *int64
	HasWebsite      bool
	HasOpeningHours bool
}

// FromPlace builds score inputs from a stored place.
func FromPlace(p *model.Place) Inputs {
	return Inputs{
		MobilityFit:     p.MobilityFit,
		SecurityFit:     p.SecurityFit,
		VoipFit:         p.VoipFit,
		FleetAttach:     p.FleetAttach,
		Rating:          p.Rating,
		ReviewCount:     p.ReviewCount,
		HasWebsite:      p.Website != nil && *p.Website != "",
		HasOpeningHours: len(p.OpeningHours) > 0,
	}
}

// Compute returns the weighted total score, capped at 100. For fit inputs
// in [0,100] the result is always in [0,100].
func Compute(in Inputs) float64 {
	score := weightMobility*fit(in.MobilityFit) +
		weightSecurity*fit(in.SecurityFit) +
		weightVoip*fit(in.VoipFit) +
		weightFleet*fit(in.FleetAttach)

	if in.Rating != nil && *in.Rating >= ratingBoostMin {
		score += boostPoints
	}
	if in.ReviewCount != nil && *in.ReviewCount >= reviewCountBoost {
		score += boostPoints
	}
	if in.HasWebsite {
		score += boostPoints
	}
	if in.HasOpeningHours {
		score += boostPoints
	}

	if score > maxScore {
		return maxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

func fit(v *int64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}
