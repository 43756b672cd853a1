// Package memoryhistory provides an in-memory implementation of history.Store.
//
// Records live in a single ordered slice guarded by a mutex. IDs are decimal
// sequence numbers starting at 1, so they sort in arrival order and double as
// pagination cursors. Data does not survive a restart; use redishistory when
// that matters.
package memoryhistory

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ggoodman/measureconv/history"
)

// Store implements history.Store in process memory.
type Store struct {
	mu       sync.RWMutex
	records  []history.Record
	seq      uint64
	maxItems int
	closed   bool
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxItems bounds the number of retained records. When the bound is
// exceeded the oldest records are evicted. n <= 0 keeps everything.
func WithMaxItems(n int) Option {
	return func(s *Store) { s.maxItems = n }
}

// WithClock overrides the time source used for zero timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores rec and assigns the next sequence number as its ID.
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	if err := ctx.Err(); err != nil {
		return history.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return history.Record{}, history.ErrClosed
	}

	s.seq++
	rec.ID = strconv.FormatUint(s.seq, 10)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Result = slices.Clone(rec.Result)
	if rec.Result == nil {
		rec.Result = []int{}
	}

	s.records = append(s.records, rec)
	if s.maxItems > 0 && len(s.records) > s.maxItems {
		drop := len(s.records) - s.maxItems
		s.records = slices.Delete(s.records, 0, drop)
	}

	return cloneRecord(rec), nil
}

// List returns records in arrival order.
func (s *Store) List(ctx context.Context, opts ...history.ListOption) (history.Page[history.Record], error) {
	if err := ctx.Err(); err != nil {
		return history.Page[history.Record]{}, err
	}
	options := history.ApplyListOptions(opts...)

	var after uint64
	if options.After != nil {
		n, err := strconv.ParseUint(*options.After, 10, 64)
		if err != nil {
			return history.Page[history.Record]{}, history.ErrInvalidCursor
		}
		after = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return history.Page[history.Record]{}, history.ErrClosed
	}

	// Records are sorted by ID; find the first one past the cursor.
	start, _ := slices.BinarySearchFunc(s.records, after+1, func(r history.Record, target uint64) int {
		id, _ := strconv.ParseUint(r.ID, 10, 64)
		switch {
		case id < target:
			return -1
		case id > target:
			return 1
		}
		return 0
	})

	end := len(s.records)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	items := make([]history.Record, 0, end-start)
	for _, r := range s.records[start:end] {
		items = append(items, cloneRecord(r))
	}

	if end < len(s.records) && len(items) > 0 {
		return history.NewPage(items, history.WithNextCursor[history.Record](items[len(items)-1].ID)), nil
	}
	return history.NewPage(items), nil
}

// Close drops all records. Subsequent calls fail with history.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.records = nil
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping reports whether the store is still open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return history.ErrClosed
	}
	return nil
}

func cloneRecord(r history.Record) history.Record {
	r.Result = slices.Clone(r.Result)
	return r
}

// Compile-time interface checks
var (
	_ history.Store  = (*Store)(nil)
	_ history.Pinger = (*Store)(nil)
)
