// Package historytest provides a backend-agnostic conformance suite for
// history.Store implementations.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/measureconv/history"
	"github.com/google/go-cmp/cmp"
)

// StoreFactory creates a new, empty Store for testing. Implementations should
// register any cleanup with t.Cleanup.
type StoreFactory func(t *testing.T) history.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Append_AssignsIDAndTimestamp", func(t *testing.T) { testAppendAssignsIDAndTimestamp(t, factory) })
	t.Run("Append_PreservesTimestamp", func(t *testing.T) { testAppendPreservesTimestamp(t, factory) })
	t.Run("Append_ResultRoundTrip", func(t *testing.T) { testResultRoundTrip(t, factory) })
	t.Run("List_EmptyStore", func(t *testing.T) { testListEmpty(t, factory) })
	t.Run("List_ArrivalOrder", func(t *testing.T) { testListArrivalOrder(t, factory) })
	t.Run("List_Pagination", func(t *testing.T) { testListPagination(t, factory) })
	t.Run("List_InvalidCursor", func(t *testing.T) { testListInvalidCursor(t, factory) })
	t.Run("Concurrency_Appends", func(t *testing.T) { testConcurrentAppends(t, factory) })
}

func testAppendAssignsIDAndTimestamp(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := time.Now().Add(-time.Second)
	rec, err := s.Append(ctx, history.Record{Input: "aa", Result: []int{1}})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected non-empty record id")
	}
	if rec.Timestamp.IsZero() || rec.Timestamp.Before(before) {
		t.Fatalf("expected timestamp to be assigned, got %v", rec.Timestamp)
	}
	if rec.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", rec.Timestamp.Location())
	}
}

func testAppendPreservesTimestamp(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := time.Date(2024, time.March, 9, 13, 37, 0, 123456789, time.UTC)
	if _, err := s.Append(ctx, history.Record{Input: "abbcc", Result: []int{2, 6}, Timestamp: ts}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	page, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Items))
	}
	if got := page.Items[0].Timestamp; !got.Equal(ts) {
		t.Fatalf("timestamp mismatch: want %v got %v", ts, got)
	}
}

func testResultRoundTrip(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := []history.Record{
		{Input: "", Result: []int{}},
		{Input: "dz_a_aazzaaa", Result: []int{28, 53, 1}},
		{Input: "ünïcode z", Result: []int{0, 0, 0}},
	}
	for _, r := range want {
		if _, err := s.Append(ctx, r); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	page, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(page.Items))
	}
	for i, got := range page.Items {
		if got.Input != want[i].Input {
			t.Fatalf("record %d input: want %q got %q", i, want[i].Input, got.Input)
		}
		if got.Result == nil {
			t.Fatalf("record %d: result must not be nil", i)
		}
		if diff := cmp.Diff(want[i].Result, got.Result); diff != "" {
			t.Fatalf("record %d result mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func testListEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %#v", page.Items)
	}
	if page.NextCursor != nil {
		t.Fatalf("expected no next cursor, got %q", *page.NextCursor)
	}
}

func testListArrivalOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := s.Append(ctx, history.Record{Input: fmt.Sprintf("in-%d", i), Result: []int{i}})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		ids = append(ids, rec.ID)
	}

	page, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var gotIDs, gotInputs []string
	for _, r := range page.Items {
		gotIDs = append(gotIDs, r.ID)
		gotInputs = append(gotInputs, r.Input)
	}
	if diff := cmp.Diff(ids, gotIDs); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"in-0", "in-1", "in-2", "in-3", "in-4"}, gotInputs); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}
}

func testListPagination(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, history.Record{Input: fmt.Sprintf("in-%d", i), Result: []int{i}}); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	var pages [][]string
	opts := []history.ListOption{history.WithLimit(2)}
	for {
		page, err := s.List(ctx, opts...)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var inputs []string
		for _, r := range page.Items {
			inputs = append(inputs, r.Input)
		}
		pages = append(pages, inputs)
		if page.NextCursor == nil {
			break
		}
		if len(pages) > 5 {
			t.Fatalf("pagination did not terminate: %v", pages)
		}
		opts = []history.ListOption{history.WithLimit(2), history.WithAfter(*page.NextCursor)}
	}

	want := [][]string{{"in-0", "in-1"}, {"in-2", "in-3"}, {"in-4"}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}

	// A limit equal to the remaining count reports no further page.
	page, err := s.List(ctx, history.WithLimit(5))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 5 || page.NextCursor != nil {
		t.Fatalf("expected 5 items and no cursor, got %d items cursor=%v", len(page.Items), page.NextCursor)
	}
}

func testListInvalidCursor(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.List(ctx, history.WithAfter("not-a-cursor"))
	if !errors.Is(err, history.ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func testConcurrentAppends(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Append(ctx, history.Record{Input: fmt.Sprintf("w%d-%d", w, i), Result: []int{w, i}}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	page, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != workers*perWorker {
		t.Fatalf("expected %d records, got %d", workers*perWorker, len(page.Items))
	}
	seen := make(map[string]struct{}, len(page.Items))
	for _, r := range page.Items {
		if _, dup := seen[r.ID]; dup {
			t.Fatalf("duplicate record id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
}
