package hooks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGlobal(t *testing.T) {
	resetGlobalForTest()

	reg := Global()
	if reg == nil {
		t.Error("expected non-nil registry")
	}

	if reg2 := Global(); reg != reg2 {
		t.Error("expected same registry instance")
	}
}

func TestSetGlobalRegistry(t *testing.T) {
	resetGlobalForTest()

	newReg := NewRegistry(nil)
	SetGlobalRegistry(newReg)

	if Global() != newReg {
		t.Error("expected SetGlobalRegistry to replace the global registry")
	}
}

func TestSetGlobalLogger(t *testing.T) {
	resetGlobalForTest()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	SetGlobalLogger(logger)

	id := Register(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		return Proceed(), nil
	})
	if id == "" {
		t.Error("expected registration to work after setting logger")
	}
}

func TestGlobal_Register(t *testing.T) {
	resetGlobalForTest()

	var called bool
	id := Register(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		called = true
		return Proceed(), nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}

	verdict := Dispatch(context.Background(), NewEvent(EventPreTool))
	if !called {
		t.Error("handler was not called")
	}
	if !verdict.ShouldProceed {
		t.Error("expected verdict to proceed")
	}
}

func TestGlobal_Unregister(t *testing.T) {
	resetGlobalForTest()

	id := Register(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		return Proceed(), nil
	})

	if !Unregister(id) {
		t.Error("expected Unregister to return true")
	}
	if Unregister(id) {
		t.Error("expected Unregister to return false for already-removed handler")
	}
}

func TestGlobal_On(t *testing.T) {
	resetGlobalForTest()

	var called bool
	id := On(EventSessionStart, func(ctx context.Context, e *Event) (Verdict, error) {
		called = true
		return Proceed(), nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}

	Dispatch(context.Background(), NewEvent(EventSessionStart))
	if !called {
		t.Error("handler was not called")
	}
}

func TestGlobal_DispatchShortCircuits(t *testing.T) {
	resetGlobalForTest()

	secondCalled := false
	On(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		return Block("blocked"), nil
	}, WithPriority(PriorityHigh))
	On(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		secondCalled = true
		return Proceed(), nil
	}, WithPriority(PriorityLow))

	verdict := Dispatch(context.Background(), NewEvent(EventPreTool))
	if verdict.ShouldProceed {
		t.Error("expected dispatch to be blocked")
	}
	if secondCalled {
		t.Error("second handler should not run after a block")
	}
}

func TestGlobal_DispatchAsync(t *testing.T) {
	resetGlobalForTest()

	var called atomic.Bool
	On(EventSessionEnd, func(ctx context.Context, e *Event) (Verdict, error) {
		called.Store(true)
		return Proceed(), nil
	})

	DispatchAsync(context.Background(), NewEvent(EventSessionEnd))

	time.Sleep(50 * time.Millisecond)

	if !called.Load() {
		t.Error("expected async handler to eventually run")
	}
}

func TestGlobal_WithOptions(t *testing.T) {
	resetGlobalForTest()

	var order []int

	Register(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		order = append(order, 2)
		return Proceed(), nil
	}, WithPriority(PriorityNormal), WithName("handler2"))

	Register(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		order = append(order, 1)
		return Proceed(), nil
	}, WithPriority(PriorityHigh), WithName("handler1"), WithSource("test-source"))

	Dispatch(context.Background(), NewEvent(EventPreTool))

	if len(order) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(order))
	}
	if order[0] != 1 || order[1] != 2 {
		t.Errorf("expected order [1,2], got %v", order)
	}
}

func TestGlobal_ConcurrentAccess(t *testing.T) {
	resetGlobalForTest()

	var wg sync.WaitGroup
	var counter atomic.Int32

	On(EventPreTool, func(ctx context.Context, e *Event) (Verdict, error) {
		counter.Add(1)
		return Proceed(), nil
	})

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Dispatch(context.Background(), NewEvent(EventPreTool))
		}()
	}

	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("expected 100 calls, got %d", counter.Load())
	}
}

// resetGlobalForTest resets the global registry state for testing.
func resetGlobalForTest() {
	globalRegistry = NewRegistry(nil)
	globalOnce = sync.Once{}
	globalOnce.Do(func() {})
}
