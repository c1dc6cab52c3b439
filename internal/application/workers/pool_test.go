package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

type stubMetrics struct{}

func (stubMetrics) RecordTaskSubmitted(string)                       {}
func (stubMetrics) RecordTaskCompleted(string, bool, time.Duration)  {}
func (stubMetrics) RecordStepExecuted(string, string, time.Duration) {}
func (stubMetrics) RecordStepRetry(string)                           {}
func (stubMetrics) RecordDegradation(string)                         {}
func (stubMetrics) RecordWorkerPoolStatus(int, int, int)             {}
func (stubMetrics) SetActiveTasks(int)                               {}

type stubInvoker struct {
	fn func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error)
}

func (s *stubInvoker) Invoke(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error) {
	return s.fn(ctx, req)
}

func startPool(t *testing.T, size int, inv *stubInvoker) *Pool {
	t.Helper()
	pool := NewPool(size, 16, inv, stubMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func dispatch(ctx context.Context, step string, timeout time.Duration) *Dispatch {
	return &Dispatch{
		TaskID:  "t1",
		Step:    step,
		Attempt: 1,
		Agent:   &domain.AgentDefinition{Name: "agent", Timeout: timeout},
		Request: ports.InvokeRequest{TaskID: "t1", Step: step, Input: "in"},
		Ctx:     ctx,
		Result:  make(chan StepResult, 1),
	}
}

func awaitResult(t *testing.T, d *Dispatch) StepResult {
	t.Helper()
	select {
	case res := <-d.Result:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return StepResult{}
	}
}

func TestPoolDeliversResult(t *testing.T) {
	inv := &stubInvoker{fn: func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		return &ports.InvokeResult{Output: "done:" + req.Step}, nil
	}}
	pool := startPool(t, 2, inv)

	d := dispatch(context.Background(), "fetch", time.Second)
	if err := pool.Submit(d); err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, d)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output.Output != "done:fetch" {
		t.Errorf("output = %q", res.Output.Output)
	}
	if res.Step != "fetch" || res.Attempt != 1 {
		t.Errorf("result identity = %s/%d", res.Step, res.Attempt)
	}
}

func TestPoolClassifiesAgentTimeout(t *testing.T) {
	inv := &stubInvoker{fn: func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	pool := startPool(t, 1, inv)

	d := dispatch(context.Background(), "slow", 10*time.Millisecond)
	if err := pool.Submit(d); err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, d)
	if !domain.IsKind(res.Err, domain.KindTimeout) {
		t.Fatalf("error kind = %s, want %s (err: %v)", domain.KindOf(res.Err), domain.KindTimeout, res.Err)
	}
}

func TestPoolTaskCancelIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &stubInvoker{fn: func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	pool := startPool(t, 1, inv)

	d := dispatch(ctx, "blocked", time.Minute)
	if err := pool.Submit(d); err != nil {
		t.Fatal(err)
	}
	cancel()

	res := awaitResult(t, d)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
	if domain.IsKind(res.Err, domain.KindTimeout) {
		t.Error("task cancellation must not be reported as an agent timeout")
	}
}

func TestPoolSkipsCancelledQueuedDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &stubInvoker{fn: func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		t.Error("invoker called for a cancelled dispatch")
		return nil, nil
	}}
	pool := startPool(t, 1, inv)

	d := dispatch(ctx, "dead", time.Second)
	// Submit on a cancelled context fails rather than enqueueing dead work.
	if err := pool.Submit(d); err == nil {
		res := awaitResult(t, d)
		if !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", res.Err)
		}
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	inv := &stubInvoker{fn: func(ctx context.Context, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		return &ports.InvokeResult{Output: "x"}, nil
	}}
	pool := NewPool(1, 1, inv, stubMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelTimeout()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	if err := pool.Submit(dispatch(context.Background(), "late", time.Second)); err == nil {
		t.Fatal("Submit after shutdown must fail")
	}

	for id, status := range pool.GetStatus() {
		if status != WorkerStatusStopped {
			t.Errorf("worker %s status = %s after shutdown", id, status)
		}
	}
}
