package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

func TestKey_TimestampPrefixStripped(t *testing.T) {
	a := &types.ParsedRequest{Messages: []types.NeutralMessage{{Role: types.RoleUser, Content: []byte(`"[Mon 2026-08-03 09:15 UTC] hello"`)}}}
	b := &types.ParsedRequest{Messages: []types.NeutralMessage{{Role: types.RoleUser, Content: []byte(`"hello"`)}}}
	assert.Equal(t, Key(a), Key(b))
}

func TestKey_RoleOrderMatters(t *testing.T) {
	a := &types.ParsedRequest{Messages: []types.NeutralMessage{
		{Role: types.RoleUser, Content: []byte(`"x"`)},
		{Role: types.RoleAssistant, Content: []byte(`"y"`)},
	}}
	b := &types.ParsedRequest{Messages: []types.NeutralMessage{
		{Role: types.RoleAssistant, Content: []byte(`"y"`)},
		{Role: types.RoleUser, Content: []byte(`"x"`)},
	}}
	assert.NotEqual(t, Key(a), Key(b))
}

func TestCache_ProducerThenReplay(t *testing.T) {
	c := New(30 * time.Second)
	entry, hit, handle := c.Lookup("k1")
	require.False(t, hit)
	require.True(t, handle.IsProducer())
	require.Equal(t, Entry{}, entry)

	handle.Complete(Entry{StatusCode: 200, Body: []byte("hi")})

	replay, hit, _ := c.Lookup("k1")
	require.True(t, hit)
	assert.Equal(t, []byte("hi"), replay.Body)
}

func TestCache_ConcurrentWaitersAwaitProducer(t *testing.T) {
	c := New(30 * time.Second)
	_, _, producer := c.Lookup("k2")
	require.True(t, producer.IsProducer())

	var wg sync.WaitGroup
	results := make([]Entry, 5)
	for i := 0; i < 5; i++ {
		_, hit, handle := c.Lookup("k2")
		require.False(t, hit)
		require.False(t, handle.IsProducer())
		wg.Add(1)
		go func(i int, h *Handle) {
			defer wg.Done()
			entry, err := h.Await()
			require.NoError(t, err)
			results[i] = entry
		}(i, handle)
	}

	producer.Complete(Entry{StatusCode: 200, Body: []byte("done")})
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte("done"), r.Body)
	}
}

func TestCache_FailRejectsWaiters(t *testing.T) {
	c := New(30 * time.Second)
	_, _, producer := c.Lookup("k3")
	require.True(t, producer.IsProducer())

	_, hit, waiter := c.Lookup("k3")
	require.False(t, hit)
	require.False(t, waiter.IsProducer())

	producer.Fail(assertError("boom"))

	_, err := waiter.Await()
	assert.EqualError(t, err, "boom")

	_, hit, next := c.Lookup("k3")
	assert.False(t, hit)
	assert.True(t, next.IsProducer(), "a failed producer must not leave a stale inflight or cached entry behind")
}

type assertError string

func (e assertError) Error() string { return string(e) }
