package tokencache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// SafetyMargin is subtracted from the server-reported lifetime when a record is
// created, so a token is renewed before the issuer considers it expired.
const SafetyMargin = 60 * time.Second

// Key identifies a set of client credentials. Two configurations with the same
// token endpoint and client identifier share a cache entry.
type Key struct {
	AuthURL  string
	ClientID string
}

// NewKey returns the cache key for the given token endpoint and client identifier.
func NewKey(authURL, clientID string) Key {
	return Key{AuthURL: authURL, ClientID: clientID}
}

// String renders the key as "authURL:clientID".
func (k Key) String() string {
	return k.AuthURL + ":" + k.ClientID
}

// flightKey is unambiguous even when either component contains ':'.
func (k Key) flightKey() string {
	return k.AuthURL + "\x00" + k.ClientID
}

// Record is a cached access token together with the instant it stops being served.
type Record struct {
	AccessToken string
	ExpiresAt   time.Time
}

// NewRecord builds a record for a token fetched at fetchedAt with the given
// server-reported lifetime. SafetyMargin is applied here and nowhere else.
func NewRecord(accessToken string, fetchedAt time.Time, lifetime time.Duration) Record {
	return Record{
		AccessToken: accessToken,
		ExpiresAt:   fetchedAt.Add(lifetime - SafetyMargin),
	}
}

// ValidAt reports whether the record may be served at the given instant.
func (r Record) ValidAt(now time.Time) bool {
	return r.AccessToken != "" && now.Before(r.ExpiresAt)
}

// Clock returns the current time.
type Clock func() time.Time

// FetchFunc obtains a fresh record for a key.
type FetchFunc func() (Record, error)

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry decisions.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// entry holds the current record for one key. Records are replaced as a whole
// through the atomic pointer and never mutated in place.
type entry struct {
	record atomic.Pointer[Record]
}

// Cache maps credential keys to token records. It is safe for concurrent use.
// Lookups never block; refreshes are deduplicated per key so concurrent misses
// for one key share a single fetch while unrelated keys proceed independently.
type Cache struct {
	now     Clock
	entries sync.Map // Key -> *entry
	flight  singleflight.Group
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCache = sync.OnceValue(func() *Cache { return New() })

// Default returns the process-wide cache, creating it on first use.
func Default() *Cache {
	return defaultCache()
}

// Now returns the cache's notion of the current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// GetValid returns the record for key if it is still valid. Expired records are
// never returned.
func (c *Cache) GetValid(key Key) (Record, bool) {
	rec, ok := c.Peek(key)
	if !ok || !rec.ValidAt(c.now()) {
		return Record{}, false
	}
	return rec, true
}

// Peek returns the record stored for key regardless of its expiry.
func (c *Cache) Peek(key Key) (Record, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return Record{}, false
	}
	rec := v.(*entry).record.Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Store replaces any record held for key.
func (c *Cache) Store(key Key, rec Record) {
	v, _ := c.entries.LoadOrStore(key, &entry{})
	v.(*entry).record.Store(&rec)
}

// Len returns the number of keys that have a stored record.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset drops every entry. Intended for tests.
func (c *Cache) Reset() {
	c.entries.Clear()
}

type flightResult struct {
	record  Record
	fetched bool
}

// GetOrRefresh returns a valid record for key, calling fetch on a miss.
//
// Concurrent misses for the same key share one call to fetch and all receive
// its result. The record is stored before onFetched runs; onFetched runs once
// per successful fetch and never on hits or failures. A failed fetch leaves
// the stored record untouched.
//
// fetch runs detached from ctx so a cancelled caller does not fail the other
// waiters; ctx only bounds how long this caller waits. The returned bool is
// true when this call performed the fetch.
func (c *Cache) GetOrRefresh(ctx context.Context, key Key, fetch FetchFunc, onFetched func(Record)) (Record, bool, error) {
	if fetch == nil {
		return Record{}, false, errors.New("tokencache: fetch function is nil")
	}
	if rec, ok := c.GetValid(key); ok {
		return rec, false, nil
	}

	leader := false
	ch := c.flight.DoChan(key.flightKey(), func() (any, error) {
		leader = true

		// A flight that finished between our miss and DoChan may have stored one already.
		if rec, ok := c.GetValid(key); ok {
			return flightResult{record: rec}, nil
		}

		rec, err := fetch()
		if err != nil {
			return nil, err
		}

		c.Store(key, rec)
		if onFetched != nil {
			onFetched(rec)
		}
		return flightResult{record: rec, fetched: true}, nil
	})

	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Record{}, false, res.Err
		}
		r := res.Val.(flightResult)
		return r.record, r.fetched && leader, nil
	}
}
