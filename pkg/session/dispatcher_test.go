package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
)

func testInvocation(action Action) Invocation {
	return Invocation{SessionID: "session-1", Action: action, Time: time.Now().UTC()}
}

func TestDispatcherRunsHooksInOrder(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))

	var mu sync.Mutex
	var order []int
	hookN := func(n int) HookFunc {
		return func(ctx context.Context, inv Invocation) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	inv := testInvocation(UpdateMetadataAction{Metadata: map[string]interface{}{"k": "v"}})
	d.Dispatch(inv, []HookFunc{hookN(1), hookN(2), hookN(3)})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 hook calls, got %d", len(order))
	}
	for i, n := range order {
		if n != i+1 {
			t.Errorf("expected hook %d at position %d, got %d", i+1, i, n)
		}
	}
}

func TestDispatcherDoesNotBlockOnSlowHooks(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))
	gate := make(chan struct{})
	hook := func(ctx context.Context, inv Invocation) error {
		<-gate
		return nil
	}

	start := time.Now()
	d.Dispatch(testInvocation(DeleteMetadataAction{Keys: []string{"k"}}), []HookFunc{hook})
	elapsed := time.Since(start)
	if elapsed > 100*time.Millisecond {
		t.Errorf("Dispatch blocked for %v waiting on hook", elapsed)
	}

	close(gate)
	d.Close()
}

func TestDispatcherIsolatesHookFailures(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))

	var ran atomic.Int32
	failing := func(ctx context.Context, inv Invocation) error {
		return errors.New("sink unavailable")
	}
	succeeding := func(ctx context.Context, inv Invocation) error {
		ran.Add(1)
		return nil
	}

	d.Dispatch(testInvocation(AddFeedbackAction{}), []HookFunc{failing, succeeding})
	d.Close()

	if ran.Load() != 1 {
		t.Errorf("expected hook after failure to run once, ran %d times", ran.Load())
	}
}

func TestDispatcherRecoversHookPanics(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))

	var ran atomic.Int32
	panicking := func(ctx context.Context, inv Invocation) error {
		panic("boom")
	}
	succeeding := func(ctx context.Context, inv Invocation) error {
		ran.Add(1)
		return nil
	}

	d.Dispatch(testInvocation(UpdateMetadataAction{}), []HookFunc{panicking, succeeding})
	d.Dispatch(testInvocation(UpdateMetadataAction{}), []HookFunc{succeeding})
	d.Close()

	if ran.Load() != 2 {
		t.Errorf("expected 2 hook runs after panic recovery, got %d", ran.Load())
	}
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	d := NewDispatcher(2, newTestLogger(t))

	var ran atomic.Int32
	hook := func(ctx context.Context, inv Invocation) error {
		time.Sleep(time.Millisecond)
		ran.Add(1)
		return nil
	}

	for i := 0; i < 50; i++ {
		d.Dispatch(testInvocation(DeleteMetadataAction{Keys: []string{"k"}}), []HookFunc{hook})
	}
	d.Close()

	if ran.Load() != 50 {
		t.Errorf("expected all 50 queued hooks to run before Close returned, got %d", ran.Load())
	}
}

func TestDispatcherDispatchAfterClose(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))
	d.Close()

	var ran atomic.Int32
	hook := func(ctx context.Context, inv Invocation) error {
		ran.Add(1)
		return nil
	}

	d.Dispatch(testInvocation(UpdateMetadataAction{}), []HookFunc{hook})
	time.Sleep(20 * time.Millisecond)

	if ran.Load() != 0 {
		t.Errorf("expected no hook runs after Close, got %d", ran.Load())
	}
	// Close is idempotent.
	d.Close()
}

func TestDispatcherSkipsEmptyHookLists(t *testing.T) {
	d := NewDispatcher(1, newTestLogger(t))
	defer d.Close()

	d.Dispatch(testInvocation(UpdateMetadataAction{}), nil)
	if pending := d.Pending(); pending != 0 {
		t.Errorf("expected empty queue, got %d pending", pending)
	}
}

func TestDispatcherConcurrentDispatch(t *testing.T) {
	d := NewDispatcher(4, newTestLogger(t))

	var ran atomic.Int32
	hook := func(ctx context.Context, inv Invocation) error {
		ran.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Dispatch(testInvocation(AddFeedbackAction{}), []HookFunc{hook})
			}
		}()
	}
	wg.Wait()
	d.Close()

	if ran.Load() != 1000 {
		t.Errorf("expected 1000 hook runs, got %d", ran.Load())
	}
}

func TestActionNames(t *testing.T) {
	tests := []struct {
		action   Action
		expected string
	}{
		{UpdateMetadataAction{Metadata: map[string]interface{}{"k": "v"}}, "update"},
		{DeleteMetadataAction{Keys: []string{"k"}}, "delete"},
		{AddFeedbackAction{Entry: FeedbackEntry{Comment: "great"}}, "add"},
	}
	for _, tt := range tests {
		if got := tt.action.Name(); got != tt.expected {
			t.Errorf("expected action name %q, got %q", tt.expected, got)
		}
	}
}

func TestRunValidators(t *testing.T) {
	ctx := context.Background()
	inv := testInvocation(UpdateMetadataAction{Metadata: map[string]interface{}{"k": "v"}})

	if err := runValidators(ctx, nil, inv); err != nil {
		t.Errorf("expected nil error with no validators, got %v", err)
	}

	pass := func(ctx context.Context, inv Invocation) error { return nil }
	fail := func(ctx context.Context, inv Invocation) error { return errors.New("value out of range") }

	if err := runValidators(ctx, []ValidatorFunc{pass, pass}, inv); err != nil {
		t.Errorf("expected nil error with passing validators, got %v", err)
	}

	err := runValidators(ctx, []ValidatorFunc{pass, fail}, inv)
	if err == nil {
		t.Fatal("expected error from failing validator")
	}
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	// An AppError validation error passes through unwrapped.
	appErr := apperrors.ValidationError("rating", "must be good, bad, or neutral")
	custom := func(ctx context.Context, inv Invocation) error { return appErr }
	if err := runValidators(ctx, []ValidatorFunc{custom}, inv); !errors.Is(err, appErr) {
		t.Errorf("expected original validation error, got %v", err)
	}
}
