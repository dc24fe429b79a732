package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/taskexec"
	"github.com/haasonsaas/agentserver/internal/toolregistry"
)

type stubTool struct {
	name  string
	async bool
	fn    func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (t *stubTool) Name() string                         { return t.name }
func (t *stubTool) HumanDescription() string              { return "stub tool " + t.name }
func (t *stubTool) RawParameterSchema() json.RawMessage   { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) RiskClass() toolregistry.RiskClass     { return toolregistry.RiskLow }
func (t *stubTool) ImplementationRef() string             { return t.name }
func (t *stubTool) Async() bool                           { return t.async }
func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.fn(ctx, args)
}

type stubCatalog struct {
	descriptors map[string]toolregistry.ToolDescriptor
	tools       map[string]toolregistry.Tool
	validateErr error
}

func (c *stubCatalog) List() []toolregistry.ToolDescriptor {
	out := make([]toolregistry.ToolDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	return out
}

func (c *stubCatalog) Describe(name string) (toolregistry.ToolDescriptor, bool) {
	d, ok := c.descriptors[name]
	return d, ok
}

func (c *stubCatalog) Resolve(name string) (toolregistry.Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

func (c *stubCatalog) ValidateArguments(name string, args json.RawMessage) error {
	return c.validateErr
}

type stubTasks struct {
	submitted []string
	submitErr error
	tasks     map[string]*taskexec.Task
	subs      map[string]chan taskexec.ProgressEvent
}

func newStubTasks() *stubTasks {
	return &stubTasks{tasks: make(map[string]*taskexec.Task), subs: make(map[string]chan taskexec.ProgressEvent)}
}

func (t *stubTasks) Submit(toolName string, args json.RawMessage, requesterID string, timeoutSeconds, maxRetries int) (string, error) {
	if t.submitErr != nil {
		return "", t.submitErr
	}
	t.submitted = append(t.submitted, toolName)
	return "task-1", nil
}

func (t *stubTasks) Status(taskID string) (*taskexec.Task, bool, error) {
	task, ok := t.tasks[taskID]
	return task, ok, nil
}

func (t *stubTasks) Cancel(taskID string) error { return nil }

func (t *stubTasks) Subscribe(taskID string) <-chan taskexec.ProgressEvent {
	if ch, ok := t.subs[taskID]; ok {
		return ch
	}
	ch := make(chan taskexec.ProgressEvent, 8)
	t.subs[taskID] = ch
	return ch
}

func (t *stubTasks) ActiveCount() int { return 0 }
func (t *stubTasks) QueueDepth() int  { return 0 }

func newTestServer(catalog *stubCatalog, tasks *stubTasks) *Server {
	return NewServer(Config{Catalog: catalog, Tasks: tasks})
}

func doRPC(t *testing.T, s *Server, req RPCRequest) RPCResponse {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/v1", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, httpReq)

	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v, body=%s", err, rec.Body.String())
	}
	return resp
}

func TestHandleRPC_ToolsList(t *testing.T) {
	catalog := &stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{
		"navigate": {Name: "navigate", HumanDescription: "go to a url", ParameterSchema: json.RawMessage(`{"type":"object"}`), RiskClass: toolregistry.RiskLow},
	}}
	s := newTestServer(catalog, newStubTasks())

	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result toolsListResult
	_ = json.Unmarshal(raw, &result)
	if len(result.Tools) != 1 || result.Tools[0].Name != "navigate" {
		t.Fatalf("result = %+v", result)
	}
}

func TestHandleRPC_UnknownMethod(t *testing.T) {
	s := newTestServer(&stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{}}, newStubTasks())
	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", Method: "frobnicate"})
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected ErrCodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestHandleRPC_ToolsCallSync(t *testing.T) {
	catalog := &stubCatalog{
		descriptors: map[string]toolregistry.ToolDescriptor{
			"echo": {Name: "echo", RiskClass: toolregistry.RiskLow},
		},
		tools: map[string]toolregistry.Tool{
			"echo": &stubTool{name: "echo", fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"type":"text","text":"hello"}`), nil
			}},
		},
	}
	s := newTestServer(catalog, newStubTasks())

	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: json.RawMessage(`{}`)})
	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result struct {
		Content []ContentItem `json:"content"`
	}
	_ = json.Unmarshal(raw, &result)
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("result = %+v", result)
	}
}

func TestHandleRPC_ToolsCallAsyncRoutesToTaskRunner(t *testing.T) {
	catalog := &stubCatalog{
		descriptors: map[string]toolregistry.ToolDescriptor{
			"long_task": {Name: "long_task", Async: true},
		},
		tools: map[string]toolregistry.Tool{
			"long_task": &stubTool{name: "long_task", async: true, fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			}},
		},
	}
	tasks := newStubTasks()
	s := newTestServer(catalog, tasks)

	params, _ := json.Marshal(toolsCallParams{Name: "long_task", Arguments: json.RawMessage(`{}`)})
	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result taskSubmittedResult
	_ = json.Unmarshal(raw, &result)
	if result.TaskID != "task-1" {
		t.Fatalf("result = %+v", result)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0] != "long_task" {
		t.Fatalf("submitted = %v", tasks.submitted)
	}
}

func TestHandleRPC_ToolsCallUnknownTool(t *testing.T) {
	catalog := &stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{}, tools: map[string]toolregistry.Tool{}}
	s := newTestServer(catalog, newStubTasks())

	params, _ := json.Marshal(toolsCallParams{Name: "missing", Arguments: json.RawMessage(`{}`)})
	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params})
	if resp.Error == nil || resp.Error.ErrorKind != string(obs.KindToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %+v", resp.Error)
	}
}

func TestHandleRPC_TasksStatus(t *testing.T) {
	tasks := newStubTasks()
	tasks.tasks["task-1"] = &taskexec.Task{TaskID: "task-1", Status: taskexec.StatusRunning, ProgressPercent: 40}
	s := newTestServer(&stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{}}, tasks)

	params, _ := json.Marshal(toolsCallParams{Name: "tasks/status", Arguments: json.RawMessage(`{"taskId":"task-1"}`)})
	resp := doRPC(t, s, RPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result taskStatusResult
	_ = json.Unmarshal(raw, &result)
	if result.Status != string(taskexec.StatusRunning) || result.ProgressPercent != 40 {
		t.Fatalf("result = %+v", result)
	}
}

func TestHandleAgentCard(t *testing.T) {
	s := newTestServer(&stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{}}, newStubTasks())
	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	rec := httptest.NewRecorder()
	s.handleAgentCard(rec, req)

	var card AgentCard
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !card.Capabilities.Streaming {
		t.Errorf("expected streaming capability to be advertised")
	}
	if card.URL == "" {
		t.Errorf("expected a non-empty url")
	}
}

func TestHandleTaskEvents_StreamsProgressThenTerminal(t *testing.T) {
	tasks := newStubTasks()
	tasks.tasks["task-1"] = &taskexec.Task{TaskID: "task-1", Status: taskexec.StatusRunning}
	s := newTestServer(&stubCatalog{descriptors: map[string]toolregistry.ToolDescriptor{}}, tasks)

	req := httptest.NewRequest(http.MethodGet, "/events/tasks/task-1", nil)
	req.SetPathValue("taskId", "task-1")
	rec := httptest.NewRecorder()

	ch := make(chan taskexec.ProgressEvent, 4)
	tasks.subs["task-1"] = ch

	done := make(chan struct{})
	go func() {
		s.handleTaskEvents(rec, req)
		close(done)
	}()

	ch <- taskexec.ProgressEvent{Kind: taskexec.EventProgress, TaskID: "task-1", Percent: 50, Message: "halfway", Timestamp: time.Now()}
	ch <- taskexec.ProgressEvent{Kind: taskexec.EventTerminal, TaskID: "task-1", Status: taskexec.StatusCompleted, Timestamp: time.Now()}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not return after terminal event")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") {
		t.Errorf("body missing progress event: %s", body)
	}
	if !strings.Contains(body, "event: terminal") {
		t.Errorf("body missing terminal event: %s", body)
	}
}
