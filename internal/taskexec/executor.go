package taskexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/agentserver/internal/obs"
)

// ToolResolver is the one toolregistry.Registry capability the executor
// needs: name → executable Tool. Declared locally to avoid an import
// cycle between taskexec and toolregistry.
type ToolResolver interface {
	Resolve(name string) (tool Executable, ok bool)
}

// Executable is the subset of toolregistry.Tool the executor calls.
type Executable interface {
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// progressKey is the context key under which a *progressReporter travels
// into tool execution, letting a tool report incremental progress without
// the Executable interface needing a callback parameter.
type progressKey struct{}

// Reporter lets a running tool push progress/log updates for its task.
type Reporter interface {
	Progress(percent int, message string)
	Log(message string)

	// Screenshot appends a persisted artifact reference to the task's
	// append-only screenshots list, per spec.md's task_execution invariant.
	Screenshot(path string)
}

// ReporterFromContext returns the Reporter for the current task execution,
// or a no-op Reporter if ctx carries none (e.g. in unit tests).
func ReporterFromContext(ctx context.Context) Reporter {
	if r, ok := ctx.Value(progressKey{}).(Reporter); ok {
		return r
	}
	return noopReporter{}
}

type noopReporter struct{}

func (noopReporter) Progress(int, string) {}
func (noopReporter) Log(string)           {}
func (noopReporter) Screenshot(string)    {}

// Config tunes worker count and queue capacity.
type Config struct {
	Workers              int
	QueueDepth           int
	DefaultTimeout       time.Duration
	DefaultMaxRetries    int
	HousekeepingInterval time.Duration
	HousekeepingMaxAge   time.Duration

	// QueueTimeout is spec.md §4.6's queueTimeoutSeconds: a queued task
	// older than this is swept to failed(QueueTimeout) by the
	// housekeeping loop rather than run stale.
	QueueTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:              4,
		QueueDepth:           100,
		DefaultTimeout:       300 * time.Second,
		DefaultMaxRetries:    2,
		HousekeepingInterval: time.Minute,
		HousekeepingMaxAge:   24 * time.Hour,
		QueueTimeout:         600 * time.Second,
	}
}

// Executor is the bounded worker pool described in SPEC_FULL.md §4.6,
// grounded on the teacher's internal/jobs.Store lifecycle plus
// internal/tasks/scheduler.go's cron-driven sweep loop.
type Executor struct {
	cfg      Config
	store    Store
	tools    ToolResolver
	metrics  *obs.Metrics

	queue chan string // task IDs, buffered to cfg.QueueDepth

	mu          sync.Mutex
	subscribers map[string][]chan ProgressEvent
	cancels     map[string]context.CancelFunc
	activeCount int

	// housekeeping is a cron scheduler running the periodic sweep on a
	// "@every <interval>" spec, grounded on the teacher's
	// internal/tasks/scheduler.go, which also drives its sweep job through
	// robfig/cron rather than a bare ticker.
	housekeeping *cron.Cron

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an Executor. Call Start to spin up workers and the
// housekeeping sweep; call Stop to shut both down.
func New(cfg Config, store Store, tools ToolResolver, metrics *obs.Metrics) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 100
	}
	return &Executor{
		cfg:         cfg,
		store:       store,
		tools:       tools,
		metrics:     metrics,
		queue:       make(chan string, cfg.QueueDepth),
		subscribers: make(map[string][]chan ProgressEvent),
		cancels:     make(map[string]context.CancelFunc),
		stop:        make(chan struct{}),
	}
}

// Start launches cfg.Workers worker goroutines plus the cron-scheduled
// housekeeping sweep. Safe to call once.
func (e *Executor) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}

	e.housekeeping = cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.HousekeepingInterval)
	if _, err := e.housekeeping.AddFunc(spec, e.runHousekeeping); err != nil {
		// A malformed interval would be a startup bug, not a runtime
		// condition; fall back to the documented default so the server
		// still gets a sweep rather than none at all.
		_, _ = e.housekeeping.AddFunc("@every 1m", e.runHousekeeping)
	}
	e.housekeeping.Start()
}

// Stop signals all goroutines to exit and waits for them.
func (e *Executor) Stop() {
	close(e.stop)
	e.wg.Wait()
	if e.housekeeping != nil {
		<-e.housekeeping.Stop().Done()
	}
}

// Submit enqueues a new task, returning KindQueueFull if the bounded queue
// is already at capacity per SPEC_FULL.md §4.6.
func (e *Executor) Submit(toolName string, args json.RawMessage, requesterID string, timeoutSeconds, maxRetries int) (string, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(e.cfg.DefaultTimeout.Seconds())
	}
	if maxRetries < 0 {
		maxRetries = e.cfg.DefaultMaxRetries
	}

	task := &Task{
		TaskID:         uuid.NewString(),
		ToolName:       toolName,
		Arguments:      args,
		Status:         StatusQueued,
		RequesterID:    requesterID,
		CreatedAt:      time.Now(),
		TimeoutSeconds: timeoutSeconds,
		MaxRetries:     maxRetries,
	}
	if err := e.store.Create(task); err != nil {
		return "", obs.Wrap(obs.KindPersistenceFailed, err)
	}

	select {
	case e.queue <- task.TaskID:
	default:
		task.Status = StatusFailed
		task.ErrorDetails = "queue is full"
		task.CompletedAt = time.Now()
		_ = e.store.Update(task)
		e.emitTerminal(task)
		if e.metrics != nil {
			e.metrics.ErrorCounter.WithLabelValues("taskexec", string(obs.KindQueueFull)).Inc()
		}
		return "", obs.New(obs.KindQueueFull, "task queue is at capacity")
	}
	if e.metrics != nil {
		e.metrics.TaskQueueDepth.Set(float64(len(e.queue)))
	}
	return task.TaskID, nil
}

// Status returns the current task row.
func (e *Executor) Status(taskID string) (*Task, bool, error) {
	return e.store.Get(taskID)
}

// Cancel requests cooperative cancellation of a running or queued task.
func (e *Executor) Cancel(taskID string) error {
	e.mu.Lock()
	cancel, running := e.cancels[taskID]
	e.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	task, ok, err := e.store.Get(taskID)
	if err != nil {
		return obs.Wrap(obs.KindPersistenceFailed, err)
	}
	if !ok {
		return obs.New(obs.KindToolNotFound, "no such task: "+taskID)
	}
	if task.Status.IsTerminal() {
		return nil
	}
	task.Status = StatusCancelled
	task.CompletedAt = time.Now()
	task.ErrorDetails = "cancelled before execution started"
	if err := e.store.Update(task); err != nil {
		return obs.Wrap(obs.KindPersistenceFailed, err)
	}
	e.emitTerminal(task)
	return nil
}

// Subscribe returns a channel of progress events for taskID, in
// generation order, closed once a terminal event has been delivered. No
// replay is offered on reconnect, per spec.md's SSE contract.
func (e *Executor) Subscribe(taskID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, 16)
	e.mu.Lock()
	e.subscribers[taskID] = append(e.subscribers[taskID], ch)
	e.mu.Unlock()
	return ch
}

// ActiveCount returns the number of tasks currently running.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCount
}

// QueueDepth returns the number of tasks waiting to be picked up.
func (e *Executor) QueueDepth() int {
	return len(e.queue)
}

func (e *Executor) workerLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case taskID := <-e.queue:
			e.runTask(taskID)
		}
	}
}

func (e *Executor) runTask(taskID string) {
	task, ok, err := e.store.Get(taskID)
	if err != nil || !ok || task.Status.IsTerminal() {
		return
	}

	e.mu.Lock()
	e.activeCount++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.activeCount--
		e.mu.Unlock()
	}()

	tool, ok := e.tools.Resolve(task.ToolName)
	if !ok {
		task.Status = StatusFailed
		task.ErrorDetails = "tool not found: " + task.ToolName
		task.CompletedAt = time.Now()
		_ = e.store.Update(task)
		e.emitTerminal(task)
		return
	}

	task.Status = StatusRunning
	task.StartedAt = time.Now()
	_ = e.store.Update(task)
	e.emitProgress(task, 0, "started")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(task.TimeoutSeconds)*time.Second)
	e.mu.Lock()
	e.cancels[taskID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, taskID)
		e.mu.Unlock()
	}()

	reporter := &taskReporter{exec: e, task: task}
	ctx = context.WithValue(ctx, progressKey{}, reporter)

	result, err := tool.Execute(ctx, task.Arguments)
	e.finishTask(task, result, err, ctx.Err())
}

func (e *Executor) finishTask(task *Task, result json.RawMessage, err error, ctxErr error) {
	task.CompletedAt = time.Now()

	switch {
	case ctxErr == context.DeadlineExceeded:
		task.Status = StatusTimedOut
		task.ErrorDetails = "execution exceeded its timeout"
	case ctxErr == context.Canceled:
		task.Status = StatusCancelled
		task.ErrorDetails = "execution was cancelled"
	case err != nil:
		kind := obs.KindOf(err)
		if kind.Retryable() && task.RetriesSoFar < task.MaxRetries {
			task.RetriesSoFar++
			task.Status = StatusQueued
			task.ErrorDetails = err.Error()
			_ = e.store.Update(task)
			e.emitProgress(task, task.ProgressPercent, fmt.Sprintf("retrying after error: %v", err))
			select {
			case e.queue <- task.TaskID:
			default:
				task.Status = StatusFailed
				task.ErrorDetails = "queue full on retry"
			}
			if task.Status == StatusQueued {
				return
			}
		} else {
			task.Status = StatusFailed
			task.ErrorDetails = err.Error()
		}
	default:
		task.Status = StatusCompleted
		task.ResultPayload = result
		task.ProgressPercent = 100
	}

	_ = e.store.Update(task)
	e.emitTerminal(task)

	if e.metrics != nil {
		e.metrics.TaskStatusCounter.WithLabelValues(string(task.Status)).Inc()
	}
}

// taskReporter implements Reporter, enforcing non-decreasing progress per
// spec.md's invariant and persisting each update.
type taskReporter struct {
	exec *Executor
	task *Task
}

func (r *taskReporter) Progress(percent int, message string) {
	if percent < r.task.ProgressPercent {
		percent = r.task.ProgressPercent
	}
	if percent > 100 {
		percent = 100
	}
	r.task.ProgressPercent = percent
	r.task.ProgressMessage = message
	_ = r.exec.store.Update(r.task)
	r.exec.emitProgress(r.task, percent, message)
}

func (r *taskReporter) Log(message string) {
	r.exec.emitLog(r.task, message)
}

func (r *taskReporter) Screenshot(path string) {
	r.task.Screenshots = append(r.task.Screenshots, path)
	_ = r.exec.store.Update(r.task)
}

func (e *Executor) emitProgress(task *Task, percent int, message string) {
	e.broadcast(task.TaskID, ProgressEvent{
		Kind:      EventProgress,
		TaskID:    task.TaskID,
		Percent:   percent,
		Message:   message,
		Status:    task.Status,
		Timestamp: time.Now(),
	})
}

func (e *Executor) emitLog(task *Task, message string) {
	e.broadcast(task.TaskID, ProgressEvent{
		Kind:      EventLog,
		TaskID:    task.TaskID,
		Message:   message,
		Status:    task.Status,
		Timestamp: time.Now(),
	})
}

func (e *Executor) emitTerminal(task *Task) {
	e.broadcast(task.TaskID, ProgressEvent{
		Kind:      EventTerminal,
		TaskID:    task.TaskID,
		Percent:   task.ProgressPercent,
		Message:   task.ErrorDetails,
		Status:    task.Status,
		Timestamp: time.Now(),
	})
	e.closeSubscribers(task.TaskID)
}

func (e *Executor) broadcast(taskID string, ev ProgressEvent) {
	e.mu.Lock()
	subs := e.subscribers[taskID]
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber drops the update rather than blocking the
			// worker; a dropped update is not replayed, so each subscriber
			// receives each event at most once.
		}
	}
}

func (e *Executor) closeSubscribers(taskID string) {
	e.mu.Lock()
	subs := e.subscribers[taskID]
	delete(e.subscribers, taskID)
	e.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// runHousekeeping is the cron-scheduled sweep body: refresh gauges, fail
// stale queued tasks, and prune old terminal rows.
func (e *Executor) runHousekeeping() {
	select {
	case <-e.stop:
		return
	default:
	}
	if e.metrics != nil {
		e.metrics.TaskQueueDepth.Set(float64(len(e.queue)))
		e.metrics.TaskActiveWorkers.Set(float64(e.ActiveCount()))
	}
	e.sweepQueueTimeouts()
	_, _ = e.store.Prune(e.cfg.HousekeepingMaxAge)
}

// sweepQueueTimeouts fails any queued task whose dwell time exceeds
// cfg.QueueTimeout, per spec.md §4.6's housekeeping sweep. A task swept
// here may still be sitting in e.queue; when a worker eventually dequeues
// it, runTask's terminal-status check makes that a no-op.
func (e *Executor) sweepQueueTimeouts() {
	if e.cfg.QueueTimeout <= 0 {
		return
	}
	tasks, err := e.store.List(0, 0)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-e.cfg.QueueTimeout)
	for _, t := range tasks {
		if t.Status != StatusQueued || !t.CreatedAt.Before(cutoff) {
			continue
		}
		t.Status = StatusFailed
		t.ErrorDetails = string(obs.KindQueueTimeout)
		t.CompletedAt = time.Now()
		if err := e.store.Update(t); err != nil {
			continue
		}
		e.emitTerminal(t)
	}
}
