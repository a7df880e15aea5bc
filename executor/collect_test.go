package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollectAllPreservesOrderAndIndividualErrors(t *testing.T) {
	errBoom := errors.New("boom")
	results := CollectAll(context.Background(),
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 0, errBoom },
		func(context.Context) (int, error) { return 3, nil },
	)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Value != 1 || results[0].Err != nil {
		t.Errorf("results[0] = %+v, want {1 nil}", results[0])
	}
	if !errors.Is(results[1].Err, errBoom) {
		t.Errorf("results[1].Err = %v, want %v", results[1].Err, errBoom)
	}
	if results[2].Value != 3 || results[2].Err != nil {
		t.Errorf("results[2] = %+v, want {3 nil}", results[2])
	}
}

func TestCollectAllOneFailureDoesNotAbortSiblings(t *testing.T) {
	var completed atomic.Int32
	results := CollectAll(context.Background(),
		func(context.Context) (int, error) { return 0, errors.New("fails immediately") },
		func(context.Context) (int, error) {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return 2, nil
		},
	)
	if completed.Load() != 1 {
		t.Errorf("slow sibling did not finish after the fast one failed")
	}
	if results[1].Value != 2 {
		t.Errorf("results[1].Value = %d, want 2", results[1].Value)
	}
}

func TestCollectAllWindowedBoundsConcurrency(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	tasks := make([]func(context.Context) (int, error), 6)
	for i := range tasks {
		tasks[i] = func(context.Context) (int, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return 0, nil
		}
	}

	results := CollectAllWindowed(context.Background(), 2, tasks...)
	if len(results) != 6 {
		t.Fatalf("len(results) = %d, want 6", len(results))
	}
	if got := maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent tasks = %d, want <= 2", got)
	}
}

func TestCollectAnyReturnsFirstFinisher(t *testing.T) {
	idx, res := CollectAny(context.Background(),
		func(context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow", nil
		},
		func(context.Context) (string, error) {
			return "fast", nil
		},
	)
	if idx != 1 {
		t.Errorf("idx = %d, want 1 (the fast task)", idx)
	}
	if res.Value != "fast" || res.Err != nil {
		t.Errorf("res = %+v, want {fast nil}", res)
	}
}
