package memo

import (
	"slices"
	"sync/atomic"
	"time"
)

// FeedCache holds the last complete snapshot read from the ledger.
//
// Snapshots are swapped whole: a reader sees either the previous or the new
// sequence, never a mix. Records are kept in ledger (chronological) order and
// reversed only in View.
type FeedCache struct {
	snap    atomic.Pointer[feedSnapshot]
	lastErr atomic.Pointer[feedError]
}

type feedSnapshot struct {
	records     []Record
	refreshedAt time.Time
}

type feedError struct {
	msg string
	at  time.Time
}

// NewFeedCache returns a cache holding an empty snapshot.
func NewFeedCache() *FeedCache {
	c := &FeedCache{}
	c.snap.Store(&feedSnapshot{})
	return c
}

// Replace swaps in a copy of records as the new snapshot and clears the last error.
func (c *FeedCache) Replace(records []Record, now time.Time) {
	c.snap.Store(&feedSnapshot{
		records:     slices.Clone(records),
		refreshedAt: now,
	})
	c.lastErr.Store(nil)
}

// RecordError notes a failed read. The current snapshot is kept.
func (c *FeedCache) RecordError(err error, now time.Time) {
	c.lastErr.Store(&feedError{msg: firstClause(err), at: now})
}

// View returns the snapshot most recent first.
func (c *FeedCache) View() []Record {
	snap := c.snap.Load()
	out := make([]Record, len(snap.records))
	for i, r := range snap.records {
		out[len(snap.records)-1-i] = r
	}
	return out
}

// Len returns the number of records in the current snapshot.
func (c *FeedCache) Len() int { return len(c.snap.Load().records) }

// LastRefreshedAt is zero until the first successful refresh.
func (c *FeedCache) LastRefreshedAt() time.Time { return c.snap.Load().refreshedAt }

// LastError is the first clause of the most recent failed read, or "" after a
// successful one.
func (c *FeedCache) LastError() string {
	if e := c.lastErr.Load(); e != nil {
		return e.msg
	}
	return ""
}

// Stale reports whether the snapshot is older than maxAge (or was never loaded).
func (c *FeedCache) Stale(now time.Time, maxAge time.Duration) bool {
	at := c.LastRefreshedAt()
	return at.IsZero() || now.Sub(at) > maxAge
}
