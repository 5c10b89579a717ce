package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunExecutesAll(t *testing.T) {
	var count int64
	errs := Run(context.Background(), 10, 3, func(ctx context.Context, i int) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if count != 10 {
		t.Fatalf("expected 10 executions, got %d", count)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("task %d: unexpected error %v", i, err)
		}
	}
}

func TestRunRespectsLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	Run(context.Background(), 20, 4, func(ctx context.Context, i int) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return nil
	})
	if peak > 4 {
		t.Fatalf("expected at most 4 workers in flight, saw %d", peak)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	errs := Run(context.Background(), 5, 2, func(ctx context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	for i, err := range errs {
		if i == 2 && !errors.Is(err, boom) {
			t.Errorf("task 2: expected failure, got %v", err)
		}
		if i != 2 && err != nil {
			t.Errorf("task %d: sibling aborted: %v", i, err)
		}
	}
}

func TestLimit(t *testing.T) {
	if got := Limit(3, 0); got != 3 {
		t.Errorf("Limit(3,0) = %d", got)
	}
	if got := Limit(100, 0); got != MaxWorkers {
		t.Errorf("Limit(100,0) = %d", got)
	}
	if got := Limit(10, 2); got != 2 {
		t.Errorf("Limit(10,2) = %d", got)
	}
	if got := Limit(0, 0); got != 1 {
		t.Errorf("Limit(0,0) = %d", got)
	}
}
