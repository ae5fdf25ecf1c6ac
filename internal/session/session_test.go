package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

func TestSet_UpgradeOnly(t *testing.T) {
	s := New(30 * time.Minute)
	defer s.Close()

	modelID, tier := s.Set("sess-1", "cheap-model", types.TierSimple)
	assert.Equal(t, "cheap-model", modelID)
	assert.Equal(t, types.TierSimple, tier)

	modelID, tier = s.Set("sess-1", "expensive-model", types.TierComplex)
	assert.Equal(t, "expensive-model", modelID)
	assert.Equal(t, types.TierComplex, tier)

	// A subsequent "simple" classification must not downgrade the pin.
	modelID, tier = s.Set("sess-1", "cheap-model", types.TierSimple)
	assert.Equal(t, "expensive-model", modelID)
	assert.Equal(t, types.TierComplex, tier)
}

func TestSet_MonotonicUnderConcurrentInterleaving(t *testing.T) {
	s := New(30 * time.Minute)
	defer s.Close()

	tiers := []types.Tier{types.TierSimple, types.TierStandard, types.TierComplex, types.TierSimple, types.TierStandard}
	var wg sync.WaitGroup
	for _, tier := range tiers {
		wg.Add(1)
		go func(tier types.Tier) {
			defer wg.Done()
			s.Set("sess-x", "model-"+string(tier), tier)
		}(tier)
	}
	wg.Wait()

	_, effectiveTier, ok := s.Get("sess-x")
	assert.True(t, ok)
	assert.Equal(t, types.TierComplex, effectiveTier)
}

func TestHasRecentFailure_OneShot(t *testing.T) {
	s := New(30 * time.Minute)
	defer s.Close()

	s.MarkFailed("sess-1")
	assert.True(t, s.HasRecentFailure("sess-1", time.Minute))
	assert.False(t, s.HasRecentFailure("sess-1", time.Minute))
}

func TestGet_IdleExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	defer s.Close()

	s.Set("sess-1", "model-a", types.TierSimple)
	time.Sleep(20 * time.Millisecond)

	_, _, ok := s.Get("sess-1")
	assert.False(t, ok)
}
