package scorer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/territory-intel/internal/model"
)

func allFits(v int64) Inputs {
	return Inputs{
		MobilityFit: model.Int64Ptr(v),
		SecurityFit: model.Int64Ptr(v),
		VoipFit:     model.Int64Ptr(v),
		FleetAttach: model.Int64Ptr(v),
	}
}

func TestCompute_WeightedBase(t *testing.T) {
	in := Inputs{
		MobilityFit: model.Int64Ptr(100),
		SecurityFit: model.Int64Ptr(50),
		VoipFit:     model.Int64Ptr(0),
		FleetAttach: model.Int64Ptr(80),
	}
	// 0.55*100 + 0.20*50 + 0.15*0 + 0.10*80 = 73
	assert.InDelta(t, 73.0, Compute(in), 1e-9)
}

func TestCompute_NilFitsCountAsZero(t *testing.T) {
	assert.Equal(t, 0.0, Compute(Inputs{}))

	in := Inputs{MobilityFit: model.Int64Ptr(100)}
	assert.InDelta(t, 55.0, Compute(in), 1e-9)
}

func TestCompute_Boosts(t *testing.T) {
	base := allFits(50) // 50.0 weighted

	in := base
	in.Rating = model.Float64Ptr(4.2)
	assert.InDelta(t, 55.0, Compute(in), 1e-9, "rating at threshold qualifies")

	in.Rating = model.Float64Ptr(4.19)
	assert.InDelta(t, 50.0, Compute(in), 1e-9, "rating below threshold does not")

	in = base
	in.ReviewCount = model.Int64Ptr(10)
	assert.InDelta(t, 55.0, Compute(in), 1e-9)

	in.ReviewCount = model.Int64Ptr(9)
	assert.InDelta(t, 50.0, Compute(in), 1e-9)

	in = base
	in.HasWebsite = true
	in.HasOpeningHours = true
	assert.InDelta(t, 60.0, Compute(in), 1e-9)
}

func TestCompute_CappedAt100(t *testing.T) {
	in := allFits(100)
	in.Rating = model.Float64Ptr(4.9)
	in.ReviewCount = model.Int64Ptr(200)
	in.HasWebsite = true
	in.HasOpeningHours = true

	assert.Equal(t, 100.0, Compute(in))
}

func TestCompute_BoundsSweep(t *testing.T) {
	for _, fits := range []int64{0, 25, 50, 75, 100} {
		for _, boosted := range []bool{false, true} {
			in := allFits(fits)
			if boosted {
				in.Rating = model.Float64Ptr(5.0)
				in.ReviewCount = model.Int64Ptr(100)
				in.HasWebsite = true
				in.HasOpeningHours = true
			}
			got := Compute(in)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		}
	}
}

func TestFromPlace(t *testing.T) {
	p := &model.Place{
		MobilityFit:  model.Int64Ptr(80),
		Rating:       model.Float64Ptr(4.5),
		Website:      model.StringPtr("https://a.example"),
		OpeningHours: json.RawMessage(`{"openNow":true}`),
	}
	in := FromPlace(p)
	assert.Equal(t, int64(80), *in.MobilityFit)
	assert.True(t, in.HasWebsite)
	assert.True(t, in.HasOpeningHours)

	// Empty-string website is not a website.
	p.Website = model.StringPtr("")
	assert.False(t, FromPlace(p).HasWebsite)
}
