package measureservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/measureconv/encoder"
	"github.com/ggoodman/measureconv/history"
	"github.com/ggoodman/measureconv/internal/logctx"
	"github.com/ggoodman/measureconv/metrics"
)

var (
	// ErrHistoryDisabled is returned by History when no store is configured.
	ErrHistoryDisabled = errors.New("history is disabled")

	// ErrHistoryUnavailable wraps failures of the configured history store.
	ErrHistoryUnavailable = errors.New("history store unavailable")
)

// Conversion is the outcome of one Convert call.
type Conversion struct {
	Input    string
	Result   []int
	RecordID string // empty when history is disabled
}

// Service encodes inputs and records them in an optional history store.
// It is safe for concurrent use.
type Service struct {
	log     *slog.Logger
	store   history.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = logctx.Wrap(l) }
}

// WithHistory enables persistence of every conversion.
func WithHistory(store history.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithMetrics records conversion metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HistoryEnabled reports whether conversions are persisted.
func (s *Service) HistoryEnabled() bool { return s.store != nil }

// Store returns the configured history store, or nil.
func (s *Service) Store() history.Store { return s.store }

// Convert encodes input and, when history is enabled, records the result.
// The conversion itself never fails; a non-nil error always wraps
// ErrHistoryUnavailable or a context error.
func (s *Service) Convert(ctx context.Context, input string) (Conversion, error) {
	start := time.Now()
	s.log.InfoContext(ctx, "convert.start")

	segs := encoder.Segments(input)
	result := make([]int, len(segs))
	for i, seg := range segs {
		result[i] = seg.Sum
		switch {
		case seg.Count == 0:
			s.log.WarnContext(ctx, "convert.segment.zero_count", slog.Int("index", seg.Start))
		case s.log.Enabled(ctx, slog.LevelDebug):
			s.log.DebugContext(ctx, "convert.segment",
				slog.Int("start", seg.Start),
				slog.Int("end", seg.End),
				slog.Int("count", seg.Count),
				slog.Int("sum", seg.Sum),
			)
		}
	}
	s.metrics.ObserveConversion(utf8.RuneCountInString(input), len(segs), time.Since(start))

	conv := Conversion{Input: input, Result: result}

	if s.store != nil {
		rec, err := s.store.Append(ctx, history.Record{Input: input, Result: result, Timestamp: s.now().UTC()})
		if err != nil {
			s.metrics.HistoryError("append")
			s.log.ErrorContext(ctx, "history.append.fail", slog.String("err", err.Error()))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return conv, ctxErr
			}
			return conv, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
		}
		conv.RecordID = rec.ID
	}

	s.log.InfoContext(ctx, "convert.ok", slog.Int("segments", len(result)), slog.Duration("dur", time.Since(start)))
	return conv, nil
}

// History lists recorded conversions in arrival order. limit <= 0 returns
// every remaining record; after is an exclusive cursor, empty to start from
// the oldest record.
func (s *Service) History(ctx context.Context, limit int, after string) (history.Page[history.Record], error) {
	if s.store == nil {
		return history.Page[history.Record]{}, ErrHistoryDisabled
	}

	opts := []history.ListOption{history.WithLimit(limit)}
	if after != "" {
		opts = append(opts, history.WithAfter(after))
	}

	page, err := s.store.List(ctx, opts...)
	if err != nil {
		if errors.Is(err, history.ErrInvalidCursor) {
			return history.Page[history.Record]{}, err
		}
		s.metrics.HistoryError("list")
		s.log.ErrorContext(ctx, "history.list.fail", slog.String("err", err.Error()))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return history.Page[history.Record]{}, ctxErr
		}
		return history.Page[history.Record]{}, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return page, nil
}

// Ping checks the history store when it supports health checks.
func (s *Service) Ping(ctx context.Context) error {
	p, ok := s.store.(history.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return nil
}
