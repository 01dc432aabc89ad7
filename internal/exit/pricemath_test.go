package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestPartialCloseVolume(t *testing.T) {
	cases := []struct {
		name   string
		volume float64
		pct    float64
		want   float64
	}{
		{"half of five lots rounds down", 0.05, 50, 0.02},
		{"at minimum volume", 0.01, 50, 0},
		{"below one step", 0.02, 25, 0},
		{"keeps minimum remaining", 0.10, 100, 0.09},
		{"exact", 1.00, 30, 0.30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, partialCloseVolume(tc.volume, tc.pct, 0.01, 0.01), 1e-9)
		})
	}
}

func TestExceedsMinChangeIsStrict(t *testing.T) {
	// 4000 * 0.05% = 2
	assert.False(t, exceedsMinChange(3952, 3950, 4000, 0.05))
	assert.True(t, exceedsMinChange(3952.01, 3950, 4000, 0.05))
}

func TestProgressReached(t *testing.T) {
	assert.True(t, progressReached(DirectionBuy, 3950, 3951.5, 5, 30))
	assert.False(t, progressReached(DirectionBuy, 3950, 3951.49, 5, 30))
	assert.True(t, progressReached(DirectionSell, 2000, 1995, 10, 50))
	assert.False(t, progressReached(DirectionSell, 2000, 2005, 10, 50))
	assert.False(t, progressReached(DirectionBuy, 3950, 3960, 0, 30))
}

func TestDirectionalComparisons(t *testing.T) {
	assert.True(t, moreProtective(DirectionBuy, 3951, 3950))
	assert.False(t, moreProtective(DirectionBuy, 3950, 3950))
	assert.True(t, moreProtective(DirectionSell, 1999, 2000))

	assert.True(t, widerThan(DirectionBuy, 3944, 3945))
	assert.False(t, widerThan(DirectionBuy, 3948.2, 3945))
	assert.True(t, widerThan(DirectionSell, 2011, 2010))

	assert.True(t, onLossSide(DirectionBuy, 3949.99, 3950))
	assert.False(t, onLossSide(DirectionBuy, 3950, 3950))
	assert.True(t, onLossSide(DirectionSell, 2000.01, 2000))
}

func TestVIXTiers(t *testing.T) {
	tiers := DefaultVIXTiers().Normalize()
	assert.NoError(t, tiers.Validate())
	assert.Equal(t, 1.0, tiers.Multiplier(20))
	assert.Equal(t, 1.25, tiers.Multiplier(20.01))
	assert.Equal(t, 1.5, tiers.Multiplier(30))
	assert.Equal(t, 2.0, tiers.Multiplier(45))

	shuffled := VIXTiers{{UpTo: 0, Multiplier: 3}, {UpTo: 25, Multiplier: 1.2}, {UpTo: 15, Multiplier: 1}}.Normalize()
	assert.Equal(t, 1.0, shuffled.Multiplier(10))
	assert.Equal(t, 1.2, shuffled.Multiplier(22))
	assert.Equal(t, 3.0, shuffled.Multiplier(26))

	assert.Error(t, VIXTiers{{UpTo: 10, Multiplier: 1}}.Validate())
}

func TestParsePhaseRoundTrip(t *testing.T) {
	for _, p := range []Phase{PhaseInit, PhaseHybridAdjusted, PhaseBreakeven, PhaseTrailing, PhaseRemoved} {
		parsed, err := ParsePhase(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePhase("paused")
	assert.Error(t, err)
}
