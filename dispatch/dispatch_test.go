// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/sdfgen/gpu"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	main := gpu.NewHostContext(2)
	reg := NewRegistry(main, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		main.Release()
	})
	return reg
}

// frameUntil runs frames until fut resolves, waiting for named pipelines
// after each one.
func frameUntil[T any](t *testing.T, reg *Registry, fut *Future[T], limit int) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for frames := 1; frames <= limit; frames++ {
		reg.Frame()
		if err := reg.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if fut.Available() {
			return frames
		}
	}
	t.Fatalf("future not resolved after %d frames", limit)
	return 0
}

func TestContinueNTimes(t *testing.T) {
	for _, name := range []string{"", "worker"} {
		for _, n := range []int{0, 1, 5} {
			t.Run(fmt.Sprintf("%q/%d", name, n), func(t *testing.T) {
				reg := newTestRegistry(t)
				p, err := reg.Get(name)
				if err != nil {
					t.Fatal(err)
				}

				calls := 0
				fut := Submit(p, func(inv Invocation) Result[int] {
					calls++
					if inv.Index() < n {
						return Continue[int]()
					}
					return Done(inv.Index())
				})

				frames := frameUntil(t, reg, fut, 100)
				last, err := fut.Get()
				if err != nil {
					t.Fatal(err)
				}
				if calls != n+1 {
					t.Errorf("invocations = %d, want %d", calls, n+1)
				}
				if last != n {
					t.Errorf("last index = %d, want %d", last, n)
				}
				if frames != n+1 {
					t.Errorf("resolved after %d frames, want %d", frames, n+1)
				}
				if s := p.Stats(); s.Invocations != uint64(n+1) || s.Completed != 1 || s.Pending != 0 {
					t.Errorf("Stats = %+v", s)
				}
			})
		}
	}
}

func TestNothingRunsBeforeFrameSync(t *testing.T) {
	reg := newTestRegistry(t)
	p, err := reg.Get("worker")
	if err != nil {
		t.Fatal(err)
	}

	fut := Run(p, func() (string, error) { return "ran", nil })

	// The worker is woken by the push but must not touch the next queue.
	time.Sleep(20 * time.Millisecond)
	if fut.Available() {
		t.Fatal("task ran before a frame sync")
	}
	if s := p.Stats(); s.Pending != 1 {
		t.Errorf("Pending = %d, want 1", s.Pending)
	}

	frameUntil(t, reg, fut, 1)
	if v, err := fut.Get(); v != "ran" || err != nil {
		t.Errorf("Get() = %q, %v", v, err)
	}
}

func TestSubmissionOrder(t *testing.T) {
	for _, name := range []string{"", "worker"} {
		t.Run("pipeline="+name, func(t *testing.T) {
			reg := newTestRegistry(t)
			p, err := reg.Get(name)
			if err != nil {
				t.Fatal(err)
			}

			var order []int
			var last *Future[int]
			for i := range 10 {
				last = Run(p, func() (int, error) {
					order = append(order, i)
					return i, nil
				})
			}
			frameUntil(t, reg, last, 1)
			for i, v := range order {
				if v != i {
					t.Fatalf("order = %v", order)
				}
			}
		})
	}
}

func TestContinuingTaskRunsOncePerCycle(t *testing.T) {
	reg := newTestRegistry(t)
	p := reg.Default()

	var trace []string
	a := Submit(p, func(inv Invocation) Result[int] {
		trace = append(trace, "a")
		if inv.Index() < 2 {
			return Continue[int]()
		}
		return Done(0)
	})
	Run(p, func() (int, error) {
		trace = append(trace, "b")
		// Submitted during a cycle: runs in the next one.
		Run(p, func() (int, error) {
			trace = append(trace, "c")
			return 0, nil
		})
		return 0, nil
	})

	frameUntil(t, reg, a, 3)
	// c was queued before a was requeued.
	want := []string{"a", "b", "c", "a", "a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestPromiseDoubleResolvePanics(t *testing.T) {
	tests := []struct {
		name   string
		second func(p *Promise[int])
	}{
		{"resolve", func(p *Promise[int]) { p.Resolve(2) }},
		{"reject", func(p *Promise[int]) { p.Reject(errors.New("late")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPromise[int]()
			p.Resolve(1)
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, ErrAlreadyResolved) {
					t.Fatalf("recover() = %v, want ErrAlreadyResolved", r)
				}
				if v, _ := p.Future().Get(); v != 1 {
					t.Errorf("value changed to %d", v)
				}
			}()
			tt.second(p)
		})
	}
}

func TestFutureBlocksUntilResolved(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	if f.Available() {
		t.Fatal("unresolved future is available")
	}

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = f.Get()
		}()
	}
	p.Resolve(42)
	wg.Wait()
	for i, v := range results {
		if v != 42 {
			t.Errorf("reader %d got %d", i, v)
		}
	}
	select {
	case <-f.Resolved():
	default:
		t.Error("Resolved channel still open")
	}
}

func TestGetContextAbandons(t *testing.T) {
	reg := newTestRegistry(t)
	p := reg.Default()

	var sawAbandoned bool
	fut := Submit(p, func(inv Invocation) Result[int] {
		if inv.Abandoned() {
			sawAbandoned = true
			return Fail[int](context.Canceled)
		}
		return Continue[int]()
	})

	reg.Frame()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.GetContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetContext err = %v, want context.Canceled", err)
	}

	reg.Frame()
	if !sawAbandoned {
		t.Error("task was not told its result was abandoned")
	}
	if !fut.Available() {
		t.Error("abandoned task kept running")
	}
}

func TestEarlyResolutionStopsTask(t *testing.T) {
	reg := newTestRegistry(t)
	promise := NewPromise[string]()
	calls := 0
	SubmitPromise(reg.Default(), promise, func(Invocation) Result[string] {
		calls++
		if calls == 1 {
			promise.Resolve("early")
		}
		return Continue[string]()
	})

	for range 3 {
		reg.Frame()
	}
	if calls != 1 {
		t.Errorf("task invoked %d times after resolving early", calls)
	}
	if v, _ := promise.Future().Get(); v != "early" {
		t.Errorf("Get() = %q", v)
	}
}

func TestTaskPanicRejectsFuture(t *testing.T) {
	reg := newTestRegistry(t)
	p, err := reg.Get("worker")
	if err != nil {
		t.Fatal(err)
	}

	bad := Run(p, func() (int, error) { panic("boom") })
	good := Run(p, func() (int, error) { return 7, nil })
	frameUntil(t, reg, good, 1)

	if _, err := bad.Get(); !errors.Is(err, ErrTaskPanicked) {
		t.Errorf("panicking task: err = %v, want ErrTaskPanicked", err)
	}
	if v, err := good.Get(); v != 7 || err != nil {
		t.Errorf("task after panic: %d, %v", v, err)
	}
}

func TestShutdownRejectsPending(t *testing.T) {
	main := gpu.NewHostContext(1)
	defer main.Release()
	reg := NewRegistry(main, WithLockOSThread(false))

	p, err := reg.Get("worker")
	if err != nil {
		t.Fatal(err)
	}
	pending := Run(p, func() (int, error) { return 1, nil })
	inline := Run(reg.Default(), func() (int, error) { return 2, nil })
	pctx := p.Context()

	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, f := range []*Future[int]{pending, inline} {
		if _, err := f.Get(); !errors.Is(err, ErrPipelineClosed) {
			t.Errorf("pending task: err = %v, want ErrPipelineClosed", err)
		}
	}
	if p.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", p.State())
	}
	if !pctx.Released() {
		t.Error("pipeline context not released")
	}
	if main.Released() {
		t.Error("Shutdown released the main context")
	}

	late := Run(p, func() (int, error) { return 3, nil })
	if _, err := late.Get(); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("late submission: err = %v, want ErrPipelineClosed", err)
	}
	if _, err := reg.Get("other"); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Get after Shutdown: err = %v", err)
	}
	if err := reg.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestGetReusesNamedPipeline(t *testing.T) {
	var created []string
	reg := newTestRegistry(t, WithContextFactory(func(main *gpu.Context, name string) (*gpu.Context, error) {
		created = append(created, name)
		return gpu.NewSharedContext(main), nil
	}))

	a, _ := reg.Get("a")
	a2, _ := reg.Get("a")
	b, _ := reg.Get("b")
	if a != a2 || a == b {
		t.Error("Get does not key pipelines by name")
	}
	if len(created) != 2 {
		t.Errorf("factory called %d times, want 2", len(created))
	}
	if a.Context() == reg.Main() || a.Context().Device() != reg.Main().Device() {
		t.Error("named pipeline should share the device through its own context")
	}
	if d, _ := reg.Get(""); d != reg.Default() {
		t.Error(`Get("") is not the default pipeline`)
	}
}

func TestContextFactoryError(t *testing.T) {
	boom := errors.New("no device")
	reg := newTestRegistry(t, WithContextFactory(func(*gpu.Context, string) (*gpu.Context, error) {
		return nil, boom
	}))
	if _, err := reg.Get("x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "Idle"},
		{StateWaiting, "Waiting"},
		{StateExecuting, "Executing"},
		{StateStopped, "Stopped"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRunFramesDrivesNamedPipeline(t *testing.T) {
	reg := newTestRegistry(t)
	p, err := reg.Get("bg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	fut := Submit(p, func(inv Invocation) Result[int] {
		if inv.Index() < 3 {
			return Continue[int]()
		}
		return Done(inv.Index())
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.RunFrames(ctx, time.Millisecond) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	got, err := fut.GetContext(waitCtx)
	cancel()
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got != 3 {
		t.Errorf("last index = %d, want 3", got)
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunFrames = %v, want context.Canceled", err)
	}
	if reg.FrameCount() < 4 {
		t.Errorf("FrameCount = %d, want >= 4", reg.FrameCount())
	}
}
