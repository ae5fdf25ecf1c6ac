package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_MarkAndQuery(t *testing.T) {
	l := NewLimiter()
	assert.False(t, l.IsRateLimited("model-a"))
	l.MarkRateLimited("model-a", 50*time.Millisecond)
	assert.True(t, l.IsRateLimited("model-a"))
	time.Sleep(70 * time.Millisecond)
	assert.False(t, l.IsRateLimited("model-a"))
}

func TestLimiter_ConcurrentMarksLastWriteWins(t *testing.T) {
	l := NewLimiter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.MarkRateLimited("model-a", 100*time.Millisecond)
		}()
	}
	wg.Wait()
	assert.True(t, l.IsRateLimited("model-a"))
}

func TestDualKeyState_PrefersConfiguredType(t *testing.T) {
	d := NewDualKeyState(true, true, true)
	sel, ok := d.Select()
	assert.True(t, ok)
	assert.Equal(t, KeyTypeSetupToken, sel.Primary)
	assert.True(t, sel.HasFallback)
	assert.Equal(t, KeyTypeEnterprise, sel.Fallback)
}

func TestDualKeyState_FailoverWhenPreferredCooling(t *testing.T) {
	d := NewDualKeyState(true, true, true)
	d.MarkCooling(KeyTypeSetupToken)
	sel, ok := d.Select()
	assert.True(t, ok)
	assert.Equal(t, KeyTypeEnterprise, sel.Primary)
	assert.False(t, sel.HasFallback)
}

func TestDualKeyState_OnlyOneConfigured(t *testing.T) {
	d := NewDualKeyState(false, true, true)
	sel, ok := d.Select()
	assert.True(t, ok)
	assert.Equal(t, KeyTypeEnterprise, sel.Primary)
	assert.False(t, sel.HasFallback)
}

func TestDualKeyState_NoneConfigured(t *testing.T) {
	d := NewDualKeyState(false, false, true)
	_, ok := d.Select()
	assert.False(t, ok)
}
