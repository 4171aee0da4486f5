package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/futarchia/foresight/internal/model"
)

func TestGatedWeight(t *testing.T) {
	now := time.Now().UTC()
	eligible := model.AgentReputation{
		Agent:            "a1",
		ActivityScore:    50,
		PlatformScore:    80,
		GovernanceWeight: CombineWeight(50, 80),
		Verified:         true,
		LastUpdate:       now.Add(-time.Hour),
	}

	t.Run("eligible record carries its combined weight", func(t *testing.T) {
		assert.InDelta(t, eligible.GovernanceWeight, gatedWeight(eligible, now), 1e-9)
	})

	t.Run("unverified identity zeroes the weight", func(t *testing.T) {
		rep := eligible
		rep.Verified = false
		assert.Zero(t, gatedWeight(rep, now))
	})

	t.Run("stale record zeroes the weight", func(t *testing.T) {
		rep := eligible
		rep.LastUpdate = now.Add(-FreshnessWindow - time.Minute)
		assert.Zero(t, gatedWeight(rep, now))

		// One minute inside the window still counts.
		rep.LastUpdate = now.Add(-FreshnessWindow + time.Minute)
		assert.InDelta(t, eligible.GovernanceWeight, gatedWeight(rep, now), 1e-9)
	})

	t.Run("either source below its floor zeroes the weight", func(t *testing.T) {
		rep := eligible
		rep.ActivityScore = MinActivityScore - 1
		assert.Zero(t, gatedWeight(rep, now))

		rep = eligible
		rep.PlatformScore = MinPlatformScore - 1
		assert.Zero(t, gatedWeight(rep, now))
	})
}
