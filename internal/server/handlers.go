package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/proposalworks/rfp-responder/internal/pipeline"
	"github.com/proposalworks/rfp-responder/internal/store"
)

// ProcessRFPRequest is the request body for POST /api/process-rfp.
type ProcessRFPRequest struct {
	RFPDocumentID    int64   `json:"rfp_document_id" validate:"required"`
	KnowledgeBaseIDs []int64 `json:"knowledge_base_ids"`
	GenerateAnswers  *bool   `json:"generate_answers"`
}

// ProcessRFPResponse is returned with 202 Accepted when a run starts.
type ProcessRFPResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Method string `json:"method"`
}

// TaskStatusResponse is the polling view of a processing task.
type TaskStatusResponse struct {
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// QuestionWithAnswer pairs a question with its answer, if any.
type QuestionWithAnswer struct {
	store.Question
	Answer *store.Answer `json:"answer,omitempty"`
}

// EditAnswerRequest is the request body for PATCH /api/answers/{id}.
type EditAnswerRequest struct {
	AnswerText string `json:"answer_text" validate:"required"`
}

// handleProcessRFP starts an asynchronous processing run and returns the
// task id immediately.
func (s *Server) handleProcessRFP(w http.ResponseWriter, r *http.Request) {
	var req ProcessRFPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "rfp_document_id is required")
		return
	}

	generateAnswers := true
	if req.GenerateAnswers != nil {
		generateAnswers = *req.GenerateAnswers
	}

	task, err := s.coordinator.Start(r.Context(), pipeline.StartRequest{
		RFPDocumentID:    req.RFPDocumentID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		GenerateAnswers:  generateAnswers,
	})
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, ProcessRFPResponse{
		TaskID: task.TaskID,
		Status: task.Status,
		Method: "pool",
	})
}

// handleTaskStatus returns the current task snapshot.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		s.errorResponse(w, http.StatusBadRequest, "Task ID is required")
		return
	}

	task, err := s.coordinator.Status(r.Context(), taskID)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, taskStatusResponse(task))
}

// handleListQuestions returns the ordered questions of an RFP document,
// each with its answer when one exists.
func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid document ID")
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id, store.TypeRFP)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if doc == nil {
		s.errorResponse(w, http.StatusNotFound, "RFP document not found")
		return
	}

	questions, err := s.store.ListQuestions(r.Context(), id)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	items := make([]QuestionWithAnswer, 0, len(questions))
	for _, q := range questions {
		answer, err := s.store.GetAnswerByQuestion(r.Context(), q.ID)
		if err != nil {
			s.errorFrom(w, err)
			return
		}
		items = append(items, QuestionWithAnswer{Question: q, Answer: answer})
	}

	s.jsonResponse(w, http.StatusOK, items)
}

// handleEditAnswer applies a manual edit. Edited answers are never
// overwritten by a later regeneration run.
func (s *Server) handleEditAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid answer ID")
		return
	}

	var req EditAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "answer_text is required")
		return
	}

	answer, err := s.store.EditAnswer(r.Context(), id, req.AnswerText)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if answer == nil {
		s.errorResponse(w, http.StatusNotFound, "Answer not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, answer)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func taskStatusResponse(task *store.ProcessingTask) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:      task.TaskID,
		Status:      task.Status,
		Progress:    task.Progress,
		CurrentStep: task.CurrentStep,
		CreatedAt:   task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   task.UpdatedAt.Format(time.RFC3339),
	}
	if task.Status == store.StatusCompleted {
		resp.Result = task.Result
	}
	if task.Status == store.StatusFailed {
		resp.Error = task.Error
	}
	return resp
}
