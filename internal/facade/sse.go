package facade

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/agentserver/internal/taskexec"
)

// sseProgressPayload mirrors spec.md §6's `progress` event fields.
type sseProgressPayload struct {
	TaskID  string `json:"taskId"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// sseLogPayload mirrors spec.md §6's `log` event fields.
type sseLogPayload struct {
	TaskID  string `json:"taskId"`
	Level   string `json:"level"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// sseTerminalPayload mirrors spec.md §6's `terminal` event fields.
type sseTerminalPayload struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ResultRef    string `json:"resultRef,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
	TS           int64  `json:"ts"`
}

// handleTaskEvents serves GET /events/tasks/{taskId}, opening a
// text/event-stream connection that emits progress/log/terminal events in
// generation order and closes on terminal event or client disconnect, per
// spec.md §4.7/§6. Reconnecting replays nothing; subscribers must re-query
// tasks/status.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if taskID == "" {
		http.Error(w, "taskId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if _, ok, err := s.cfg.Tasks.Status(taskID); err != nil || !ok {
		http.Error(w, "no such task: "+taskID, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.cfg.Tasks.Subscribe(taskID)
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Kind == taskexec.EventTerminal {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev taskexec.ProgressEvent) error {
	var eventName string
	var payload interface{}

	switch ev.Kind {
	case taskexec.EventProgress:
		eventName = "progress"
		payload = sseProgressPayload{TaskID: ev.TaskID, Percent: ev.Percent, Message: ev.Message, TS: ev.Timestamp.UnixMilli()}
	case taskexec.EventLog:
		eventName = "log"
		payload = sseLogPayload{TaskID: ev.TaskID, Level: "info", Message: ev.Message, TS: ev.Timestamp.UnixMilli()}
	case taskexec.EventTerminal:
		eventName = "terminal"
		term := sseTerminalPayload{TaskID: ev.TaskID, Status: string(ev.Status), TS: ev.Timestamp.UnixMilli()}
		if ev.Status != taskexec.StatusCompleted {
			term.ErrorKind = ev.Message
		}
		payload = term
	default:
		eventName = "log"
		payload = sseLogPayload{TaskID: ev.TaskID, Level: "info", Message: ev.Message, TS: ev.Timestamp.UnixMilli()}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, data)
	return err
}
