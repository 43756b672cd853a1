// Package history defines the persistence interface for conversion records.
// Each successful conversion may be recorded as an (input, result, timestamp)
// tuple; records are read back in arrival order.
//
// Backends live in sub-packages: memoryhistory for single-process use and
// redishistory when records must survive restarts or be shared across
// replicas.
package history

import (
	"context"
	"errors"
	"time"
)

// Store appends and lists conversion records.
type Store interface {
	// Append stores rec and returns it as persisted. The backend assigns the
	// record ID, and a zero Timestamp is replaced with the current UTC time.
	// IDs increase in arrival order.
	Append(ctx context.Context, rec Record) (Record, error)

	// List returns records in arrival order (oldest first).
	List(ctx context.Context, opts ...ListOption) (Page[Record], error)

	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Record is one persisted conversion.
type Record struct {
	ID        string    `json:"id" jsonschema:"description=Backend assigned identifier; usable as a pagination cursor"`
	Input     string    `json:"input_str" jsonschema:"description=Input string as received"`
	Result    []int     `json:"result" jsonschema:"description=Segment sums"`
	Timestamp time.Time `json:"timestamp" jsonschema:"description=UTC time the conversion was recorded"`
}

// ListOption configures a List call.
type ListOption func(*ListOptions)

// ListOptions contains configuration for List.
type ListOptions struct {
	Limit int     // Optional: maximum records to return (<= 0 = backend default)
	After *string // Optional: exclusive cursor, the ID of the last record already seen
}

// WithLimit caps the number of records returned by List.
func WithLimit(n int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = n
	}
}

// WithAfter resumes listing after the record with the given ID.
func WithAfter(cursor string) ListOption {
	return func(opts *ListOptions) {
		opts.After = &cursor
	}
}

// ApplyListOptions folds opts into a ListOptions value.
func ApplyListOptions(opts ...ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Error types
var (
	// ErrInvalidCursor is returned when an After cursor cannot be parsed by the backend.
	ErrInvalidCursor = errors.New("history: invalid cursor")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("history: store closed")
)
