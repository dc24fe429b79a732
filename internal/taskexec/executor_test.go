package taskexec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentserver/internal/obs"
)

type stubTool struct {
	fn func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.fn(ctx, args)
}

type stubResolver struct {
	tools map[string]Executable
}

func (r *stubResolver) Resolve(name string) (Executable, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func waitForTerminal(t *testing.T, exec *Executor, taskID string) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok, err := exec.Status(taskID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if ok && task.Status.IsTerminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status in time", taskID)
	return nil
}

func TestExecutor_SubmitAndComplete(t *testing.T) {
	resolver := &stubResolver{tools: map[string]Executable{
		"echo": &stubTool{fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			ReporterFromContext(ctx).Progress(50, "halfway")
			return json.RawMessage(`{"ok":true}`), nil
		}},
	}}
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer exec.Stop()

	taskID, err := exec.Submit("echo", json.RawMessage(`{}`), "user-1", 5, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitForTerminal(t, exec, taskID)
	if task.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if task.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", task.ProgressPercent)
	}
	if string(task.ResultPayload) != `{"ok":true}` {
		t.Errorf("ResultPayload = %s", task.ResultPayload)
	}
}

func TestExecutor_UnknownToolFailsImmediately(t *testing.T) {
	resolver := &stubResolver{tools: map[string]Executable{}}
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer exec.Stop()

	taskID, err := exec.Submit("does-not-exist", json.RawMessage(`{}`), "user-1", 5, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	task := waitForTerminal(t, exec, taskID)
	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
}

func TestExecutor_RetryableErrorIsRetriedUpToMaxRetries(t *testing.T) {
	attempts := 0
	resolver := &stubResolver{tools: map[string]Executable{
		"flaky": &stubTool{fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			attempts++
			if attempts < 3 {
				return nil, obs.New(obs.KindLMTransport, "transient")
			}
			return json.RawMessage(`{"ok":true}`), nil
		}},
	}}
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer exec.Stop()

	taskID, err := exec.Submit("flaky", json.RawMessage(`{}`), "user-1", 5, 2)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	task := waitForTerminal(t, exec, taskID)
	if task.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed after retries", task.Status)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecutor_NonRetryableErrorFailsWithoutRetry(t *testing.T) {
	attempts := 0
	resolver := &stubResolver{tools: map[string]Executable{
		"broken": &stubTool{fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			attempts++
			return nil, obs.New(obs.KindArgumentInvalid, "bad args")
		}},
	}}
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer exec.Stop()

	taskID, err := exec.Submit("broken", json.RawMessage(`{}`), "user-1", 5, 3)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	task := waitForTerminal(t, exec, taskID)
	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-retryable kind)", attempts)
	}
}

func TestExecutor_SubmitRejectsWhenQueueIsFull(t *testing.T) {
	block := make(chan struct{})
	resolver := &stubResolver{tools: map[string]Executable{
		"block": &stubTool{fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			<-block
			return json.RawMessage(`{}`), nil
		}},
	}}
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueDepth = 1
	exec := New(cfg, NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer func() {
		close(block)
		exec.Stop()
	}()

	if _, err := exec.Submit("block", json.RawMessage(`{}`), "u", 5, 0); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the worker pick it up so the queue is empty again
	if _, err := exec.Submit("block", json.RawMessage(`{}`), "u", 5, 0); err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	_, err := exec.Submit("block", json.RawMessage(`{}`), "u", 5, 0)
	if err == nil {
		t.Fatalf("expected QueueFull error")
	}
	if obs.KindOf(err) != obs.KindQueueFull {
		t.Errorf("KindOf(err) = %v, want QueueFull", obs.KindOf(err))
	}
}

func TestExecutor_CancelQueuedTask(t *testing.T) {
	resolver := &stubResolver{tools: map[string]Executable{}}
	// Deliberately never call Start: no worker goroutine drains the queue,
	// so the submitted task stays in StatusQueued for Cancel to observe.
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())

	taskID, err := exec.Submit("never-runs", json.RawMessage(`{}`), "u", 5, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := exec.Cancel(taskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	task, ok, err := exec.Status(taskID)
	if err != nil || !ok {
		t.Fatalf("Status: ok=%v err=%v", ok, err)
	}
	if task.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status)
	}
}

func TestExecutor_SweepQueueTimeoutFailsStaleQueuedTask(t *testing.T) {
	resolver := &stubResolver{tools: map[string]Executable{}}
	// No Start(): the task stays queued so the sweep (called directly,
	// not via the cron schedule) is what transitions it.
	cfg := DefaultConfig()
	cfg.QueueTimeout = time.Millisecond
	exec := New(cfg, NewMemoryStore(), resolver, obs.NewNoopMetrics())

	taskID, err := exec.Submit("never-runs", json.RawMessage(`{}`), "u", 5, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	exec.sweepQueueTimeouts()

	task, ok, err := exec.Status(taskID)
	if err != nil || !ok {
		t.Fatalf("Status: ok=%v err=%v", ok, err)
	}
	if task.Status != StatusFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}
	if task.ErrorDetails != string(obs.KindQueueTimeout) {
		t.Errorf("errorDetails = %q, want %q", task.ErrorDetails, obs.KindQueueTimeout)
	}
}

func TestExecutor_SubscribeReceivesTerminalEventAndCloses(t *testing.T) {
	resolver := &stubResolver{tools: map[string]Executable{
		"quick": &stubTool{fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}},
	}}
	exec := New(DefaultConfig(), NewMemoryStore(), resolver, obs.NewNoopMetrics())
	exec.Start()
	defer exec.Stop()

	taskID, err := exec.Submit("quick", json.RawMessage(`{}`), "u", 5, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch := exec.Subscribe(taskID)

	sawTerminal := false
	deadline := time.After(2 * time.Second)
	for !sawTerminal {
		select {
		case ev, open := <-ch:
			if !open {
				sawTerminal = true
				break
			}
			if ev.Kind == EventTerminal {
				sawTerminal = true
			}
		case <-deadline:
			t.Fatalf("did not observe a terminal event in time")
		}
	}
}
