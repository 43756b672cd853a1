package redishistory

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/measureconv/history"
	"github.com/ggoodman/measureconv/history/historytest"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
)

func TestRedisStore(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	s, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis history tests: %v", err)
		return
	}
	_ = s.Close()

	historytest.RunStoreTests(t, func(t *testing.T) history.Store {
		var cfg Config
		if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			t.Fatalf("decode config: %v", err)
		}
		// Isolate every test in its own stream.
		cfg.KeyPrefix = "measureconv:test:" + uuid.NewString() + ":"
		ss, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() {
			_ = ss.client.Del(context.Background(), ss.streamKey()).Err()
			_ = ss.Close()
		})
		return ss
	})
}

func TestValidStreamID(t *testing.T) {
	cases := map[string]bool{
		"1700000000000-0": true,
		"0-1":             true,
		"":                false,
		"123":             false,
		"abc-1":           false,
		"1-":              false,
		"-1":              false,
		"1-2-3":           false,
	}
	for in, want := range cases {
		if got := validStreamID(in); got != want {
			t.Errorf("validStreamID(%q): want %v got %v", in, want, got)
		}
	}
}
