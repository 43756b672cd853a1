package redishistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/measureconv/history"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed history store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisPassword for AUTH, empty for none. ENV: REDIS_PASSWORD
	RedisPassword string `env:"REDIS_PASSWORD"`
	// RedisDB selects the logical database. ENV: REDIS_DB
	RedisDB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: HISTORY_KEY_PREFIX
	KeyPrefix string `env:"HISTORY_KEY_PREFIX,default=measureconv:"`
	// MaxLen approximately bounds the stream length; 0 disables trimming. ENV: HISTORY_MAX_LEN
	MaxLen int64 `env:"HISTORY_MAX_LEN,default=0"`
}

// Store implements history.Store on a Redis stream.
type Store struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

const (
	defaultKeyPrefix = "measureconv:"

	fieldInput  = "input"
	fieldResult = "result"
	fieldTime   = "ts"
)

// New connects to Redis and verifies reachability with PING.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix, cfg.MaxLen), nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis history config: %w", err)
	}
	return New(cfg)
}

// NewWithClient wraps an existing client. The Store takes ownership and
// closes the client on Close.
func NewWithClient(client *redis.Client, keyPrefix string, maxLen int64) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if maxLen < 0 {
		maxLen = 0
	}
	return &Store{client: client, keyPrefix: keyPrefix, maxLen: maxLen}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) streamKey() string { return s.keyPrefix + "history" }

// Append adds rec to the stream. The stream entry ID becomes the record ID.
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Result == nil {
		rec.Result = []int{}
	}

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return history.Record{}, fmt.Errorf("failed to marshal result: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.streamKey(),
		Values: map[string]interface{}{
			fieldInput:  rec.Input,
			fieldResult: result,
			fieldTime:   rec.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return history.Record{}, fmt.Errorf("failed to append to %s: %w", s.streamKey(), err)
	}
	rec.ID = id
	return rec, nil
}

// List reads the stream with XRANGE. Exclusive range starts ("(" prefix)
// require Redis 6.2 or newer.
func (s *Store) List(ctx context.Context, opts ...history.ListOption) (history.Page[history.Record], error) {
	options := history.ApplyListOptions(opts...)

	start := "-"
	if options.After != nil {
		if !validStreamID(*options.After) {
			return history.Page[history.Record]{}, history.ErrInvalidCursor
		}
		start = "(" + *options.After
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if options.Limit > 0 {
		// Fetch one extra entry to learn whether another page exists.
		msgs, err = s.client.XRangeN(ctx, s.streamKey(), start, "+", int64(options.Limit)+1).Result()
	} else {
		msgs, err = s.client.XRange(ctx, s.streamKey(), start, "+").Result()
	}
	if err != nil {
		return history.Page[history.Record]{}, fmt.Errorf("failed to read %s: %w", s.streamKey(), err)
	}

	more := false
	if options.Limit > 0 && len(msgs) > options.Limit {
		msgs = msgs[:options.Limit]
		more = true
	}

	items := make([]history.Record, 0, len(msgs))
	for _, m := range msgs {
		rec, err := decodeMessage(m)
		if err != nil {
			return history.Page[history.Record]{}, err
		}
		items = append(items, rec)
	}

	if more {
		return history.NewPage(items, history.WithNextCursor[history.Record](items[len(items)-1].ID)), nil
	}
	return history.NewPage(items), nil
}

func decodeMessage(m redis.XMessage) (history.Record, error) {
	rec := history.Record{ID: m.ID, Input: stringValue(m.Values[fieldInput])}

	if err := json.Unmarshal([]byte(stringValue(m.Values[fieldResult])), &rec.Result); err != nil {
		return history.Record{}, fmt.Errorf("failed to unmarshal result of entry %s: %w", m.ID, err)
	}
	if rec.Result == nil {
		rec.Result = []int{}
	}

	ts, err := time.Parse(time.RFC3339Nano, stringValue(m.Values[fieldTime]))
	if err != nil {
		return history.Record{}, fmt.Errorf("failed to parse timestamp of entry %s: %w", m.ID, err)
	}
	rec.Timestamp = ts.UTC()
	return rec, nil
}

// stringValue accepts string or []byte payloads.
func stringValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// validStreamID reports whether id has the "<ms>-<seq>" form of a stream entry ID.
func validStreamID(id string) bool {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return false
	}
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return false
	}
	return true
}

// Interface compliance
var (
	_ history.Store  = (*Store)(nil)
	_ history.Pinger = (*Store)(nil)
)
