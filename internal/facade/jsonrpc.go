package facade

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/taskexec"
)

// maxRequestBodyBytes bounds the JSON-RPC request body, grounded on the
// teacher's maxAPIRequestBodyBytes guard in internal/web/api.go.
const maxRequestBodyBytes = 10 << 20

// handleRPC is the single POST /v1 entry point for tools/list, tools/call,
// resources/list, and prompts/list, per spec.md §4.7.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeRPCError(w, nil, ErrCodeParseError, "failed to read request body", "")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeRPCError(w, nil, ErrCodeParseError, "malformed JSON-RPC envelope", "")
		return
	}

	switch req.Method {
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r.Context(), req)
	case "resources/list":
		s.writeRPCResult(w, req.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		s.writeRPCResult(w, req.ID, map[string]interface{}{"prompts": []interface{}{}})
	default:
		s.writeRPCError(w, req.ID, ErrCodeMethodNotFound, "unknown method: "+req.Method, "")
	}
}

func (s *Server) handleToolsList(w http.ResponseWriter, req RPCRequest) {
	descriptors := s.cfg.Catalog.List()
	entries := make([]ToolListEntry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, ToolListEntry{
			Name:        d.Name,
			Description: d.HumanDescription,
			InputSchema: d.ParameterSchema,
			RiskClass:   string(d.RiskClass),
			Async:       d.Async,
		})
	}
	s.writeRPCResult(w, req.ID, toolsListResult{Tools: entries})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, ctx context.Context, req RPCRequest) {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeRPCError(w, req.ID, ErrCodeInvalidParams, "invalid tools/call params", "")
		return
	}

	if params.Name == "tasks/status" {
		s.handleTasksStatus(w, req.ID, params.Arguments)
		return
	}

	descriptor, ok := s.cfg.Catalog.Describe(params.Name)
	if !ok {
		s.writeRPCError(w, req.ID, ErrCodeApplication, "unknown tool: "+params.Name, string(obs.KindToolNotFound))
		return
	}

	if err := s.cfg.Catalog.ValidateArguments(params.Name, params.Arguments); err != nil {
		s.writeRPCError(w, req.ID, ErrCodeInvalidParams, err.Error(), string(obs.KindOf(err)))
		return
	}

	if s.cfg.Approval != nil {
		if err := s.cfg.Approval(ctx, params.Name, descriptor.RiskClass, params.Arguments); err != nil {
			s.writeRPCError(w, req.ID, ErrCodeApplication, err.Error(), string(obs.KindOf(err)))
			return
		}
	}

	if descriptor.Async || params.Async {
		taskID, err := s.cfg.Tasks.Submit(params.Name, params.Arguments, requesterFromContext(ctx), int(s.cfg.DefaultTaskTimeout.Seconds()), s.cfg.DefaultTaskMaxRetry)
		if err != nil {
			s.writeRPCError(w, req.ID, ErrCodeApplication, err.Error(), string(obs.KindOf(err)))
			return
		}
		s.writeRPCResult(w, req.ID, taskSubmittedResult{TaskID: taskID})
		return
	}

	s.runSync(w, ctx, req.ID, params.Name, params.Arguments)
}

func (s *Server) runSync(w http.ResponseWriter, ctx context.Context, id json.RawMessage, toolName string, args json.RawMessage) {
	tool, ok := s.cfg.Catalog.Resolve(toolName)
	if !ok {
		s.writeRPCError(w, id, ErrCodeApplication, "unknown tool: "+toolName, string(obs.KindToolNotFound))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncCallTimeout)
	defer cancel()

	raw, err := tool.Execute(callCtx, args)
	if err != nil {
		s.writeRPCError(w, id, ErrCodeApplication, err.Error(), string(obs.KindOf(err)))
		return
	}

	var item ContentItem
	if err := json.Unmarshal(raw, &item); err != nil || item.Type == "" {
		item = ContentItem{Type: "text", Text: string(raw)}
	}
	s.writeRPCResult(w, id, map[string]interface{}{"content": []ContentItem{item}})
}

func (s *Server) handleTasksStatus(w http.ResponseWriter, id json.RawMessage, argsRaw json.RawMessage) {
	var params tasksStatusParams
	if err := json.Unmarshal(argsRaw, &params); err != nil || params.TaskID == "" {
		s.writeRPCError(w, id, ErrCodeInvalidParams, "tasks/status requires a taskId", "")
		return
	}
	task, ok, err := s.cfg.Tasks.Status(params.TaskID)
	if err != nil {
		s.writeRPCError(w, id, ErrCodeApplication, err.Error(), string(obs.KindOf(err)))
		return
	}
	if !ok {
		s.writeRPCError(w, id, ErrCodeApplication, "no such task: "+params.TaskID, string(obs.KindToolNotFound))
		return
	}
	s.writeRPCResult(w, id, taskToResult(task))
}

func taskToResult(t *taskexec.Task) taskStatusResult {
	return taskStatusResult{
		TaskID:          t.TaskID,
		Status:          string(t.Status),
		ProgressPercent: t.ProgressPercent,
		ProgressMessage: t.ProgressMessage,
		ResultPayload:   t.ResultPayload,
		ErrorDetails:    t.ErrorDetails,
		Screenshots:     t.Screenshots,
	}
}

type requesterKey struct{}

// WithRequester attaches a caller identity to ctx, surfaced as RequesterID
// on submitted tasks. Populated by an AuthMiddleware, read here.
func WithRequester(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, requesterKey{}, requesterID)
}

func requesterFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requesterKey{}).(string); ok {
		return v
	}
	return ""
}

func (s *Server) writeRPCResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message, kind string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, ErrorKind: kind}})
}
