package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/proposalworks/rfp-responder/internal/store"
)

// SSEWriter helps write Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleTaskStatusStream streams task progress as SSE until the task is
// terminal or the client disconnects.
func (s *Server) handleTaskStatusStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	task, err := s.coordinator.Status(r.Context(), taskID)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	lastProgress := -1
	lastStatus := ""
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if task.Progress != lastProgress || task.Status != lastStatus {
			if err := sse.WriteEvent("progress", taskStatusResponse(task)); err != nil {
				return
			}
			lastProgress = task.Progress
			lastStatus = task.Status
		}

		if task.Terminal() {
			event := "complete"
			if task.Status == store.StatusFailed {
				event = "failed"
			}
			_ = sse.WriteEvent(event, taskStatusResponse(task))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		task, err = s.coordinator.Status(r.Context(), taskID)
		if err != nil {
			_ = sse.WriteEvent("error", map[string]string{"error": err.Error()})
			return
		}
	}
}
