package dedup

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// DefaultTTL is how long a completed response stays eligible for replay.
const DefaultTTL = 30 * time.Second

// Entry is the replayable shape of one completed response. The Decision/
// Classification/token fields are carried alongside the wire response so a
// replayed request can still produce its own routing-log entry with zero
// dispatcher latency, per spec.md §4.9/§8.
type Entry struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte

	Decision         types.RoutingDecision
	Composite        float64
	Confidence       float64
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
}

// future is a one-shot, closed-channel signal: the producer closes done
// once entry/err are set; waiters block on done and then read the same
// fields directly off this pointer, so there is no map re-lookup race
// between a producer's Fail/Complete and a waiter's Await.
type future struct {
	done  chan struct{}
	entry Entry
	err   error
}

func (f *future) complete(entry Entry) {
	f.entry = entry
	close(f.done)
}

func (f *future) fail(err error) {
	f.err = err
	close(f.done)
}

// Handle is the caller's role in one dedup lookup: either the producer
// (must eventually call Complete or Fail) or a waiter (must call Await).
type Handle struct {
	cache      *Cache
	key        string
	f          *future
	isProducer bool
}

// IsProducer reports whether the caller holding h must actually perform
// the request, as opposed to waiting on someone else's in-flight result.
func (h *Handle) IsProducer() bool { return h.isProducer }

// Await blocks until the producer completes or fails, then returns its
// outcome. Only meaningful for a waiter handle.
func (h *Handle) Await() (Entry, error) {
	<-h.f.done
	return h.f.entry, h.f.err
}

// Complete records a successful response: it wakes any waiters, stores
// the entry for TTL-bounded replay, and removes the in-flight marker.
// Only the producer handle may call this.
func (h *Handle) Complete(entry Entry) {
	h.cache.mu.Lock()
	delete(h.cache.inflight, h.key)
	h.cache.mu.Unlock()

	h.f.complete(entry)
	h.cache.done.SetDefault(h.key, entry)
	h.cache.done.DeleteExpired()
}

// Fail rejects all waiters without caching anything; they fall through
// and retry as fresh requests, per spec.md §4.6.
func (h *Handle) Fail(err error) {
	h.cache.mu.Lock()
	delete(h.cache.inflight, h.key)
	h.cache.mu.Unlock()

	h.f.fail(err)
}

// Cache implements the request dedup pipeline of spec.md §4.6: a
// completed-entry TTL cache plus an in-flight producer/waiter table, with
// atomic producer-vs-waiter insertion under concurrent arrivals.
type Cache struct {
	mu       sync.Mutex
	inflight map[string]*future
	done     *gocache.Cache
}

// New constructs a Cache. ttl is the completed-entry lifetime (DefaultTTL
// if zero).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		inflight: make(map[string]*future),
		done:     gocache.New(ttl, ttl/2),
	}
}

// Lookup resolves key to exactly one of: a completed entry (hit=true), or
// a Handle identifying the caller as either the new producer or a waiter
// on an existing in-flight request. The decision is atomic under
// concurrent arrivals on the same key.
func (c *Cache) Lookup(key string) (entry Entry, hit bool, handle *Handle) {
	if v, found := c.done.Get(key); found {
		return v.(Entry), true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, found := c.done.Get(key); found {
		return v.(Entry), true, nil
	}

	if f, found := c.inflight[key]; found {
		return Entry{}, false, &Handle{cache: c, key: key, f: f, isProducer: false}
	}

	f := &future{done: make(chan struct{})}
	c.inflight[key] = f
	return Entry{}, false, &Handle{cache: c, key: key, f: f, isProducer: true}
}
