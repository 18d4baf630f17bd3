package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proposalworks/rfp-responder/internal/pipeline"
	"github.com/proposalworks/rfp-responder/internal/store"
	"github.com/proposalworks/rfp-responder/internal/vector"
)

// srvStore is an in-memory store backing both the HTTP layer and the
// pipeline in handler tests.
type srvStore struct {
	mu        sync.Mutex
	documents map[int64]*store.Document
	questions map[int64][]store.Question
	answers   map[int64]*store.Answer // by question id
	tasks     map[string]*store.ProcessingTask
	nextID    int64
}

func newSrvStore() *srvStore {
	return &srvStore{
		documents: make(map[int64]*store.Document),
		questions: make(map[int64][]store.Question),
		answers:   make(map[int64]*store.Answer),
		tasks:     make(map[string]*store.ProcessingTask),
	}
}

func (m *srvStore) GetDocument(_ context.Context, id int64, documentType string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.DocumentType != documentType {
		return nil, nil
	}
	d := *doc
	return &d, nil
}

func (m *srvStore) MarkDocumentProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.documents[id]; ok {
		doc.Processed = true
	}
	return nil
}

func (m *srvStore) SetDocumentMetadata(_ context.Context, id int64, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.documents[id]; ok {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			doc.Metadata[k] = v
		}
	}
	return nil
}

func (m *srvStore) ReplaceQuestions(_ context.Context, rfpDocumentID int64, texts []string) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	questions := make([]store.Question, 0, len(texts))
	for i, text := range texts {
		m.nextID++
		questions = append(questions, store.Question{
			ID: m.nextID, RFPDocumentID: rfpDocumentID,
			QuestionText: text, QuestionNumber: i + 1, ExtractedAt: time.Now(),
		})
	}
	m.questions[rfpDocumentID] = questions
	out := make([]store.Question, len(questions))
	copy(out, questions)
	return out, nil
}

func (m *srvStore) ListQuestions(_ context.Context, rfpDocumentID int64) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Question, len(m.questions[rfpDocumentID]))
	copy(out, m.questions[rfpDocumentID])
	return out, nil
}

func (m *srvStore) GetAnswerByQuestion(_ context.Context, questionID int64) (*store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer, ok := m.answers[questionID]
	if !ok {
		return nil, nil
	}
	a := *answer
	return &a, nil
}

func (m *srvStore) UpsertAnswer(_ context.Context, questionID int64, text string, confidence float64, sources []store.SourceRef) (*store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer, ok := m.answers[questionID]
	if !ok {
		m.nextID++
		answer = &store.Answer{ID: m.nextID, QuestionID: questionID}
		m.answers[questionID] = answer
	}
	answer.AnswerText = text
	answer.ConfidenceScore = confidence
	answer.SourceDocuments = sources
	answer.Edited = false
	answer.EditedAt = nil
	answer.GeneratedAt = time.Now()
	a := *answer
	return &a, nil
}

func (m *srvStore) EditAnswer(_ context.Context, answerID int64, text string) (*store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, answer := range m.answers {
		if answer.ID == answerID {
			now := time.Now()
			answer.AnswerText = text
			answer.Edited = true
			answer.EditedAt = &now
			a := *answer
			return &a, nil
		}
	}
	return nil, nil
}

func (m *srvStore) CreateTask(_ context.Context, task *store.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

func (m *srvStore) GetTask(_ context.Context, taskID string) (*store.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	t := *task
	return &t, nil
}

func (m *srvStore) UpdateTask(_ context.Context, task *store.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.UpdatedAt = time.Now()
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

type srvExtractor struct{}

func (srvExtractor) Extract(string) (string, error) {
	return "What is your data retention policy?\nHow is customer data encrypted at rest?", nil
}

type srvChunker struct{}

func (srvChunker) Split(text string) []string { return []string{text} }

type srvIndex struct{}

func (srvIndex) Add(context.Context, string, []string, map[string]string) error { return nil }
func (srvIndex) Delete(context.Context, string) error                          { return nil }
func (srvIndex) Search(context.Context, string, int) ([]vector.Match, error) {
	return []vector.Match{{Text: "Data is encrypted with AES-256.", DocumentID: "1", Distance: 0.4}}, nil
}

type srvLLM struct{}

func (srvLLM) Complete(_ context.Context, _ string, temperature float32, _ int) (string, error) {
	if temperature == 0.3 {
		return "1. What is your data retention policy?\n2. How is customer data encrypted at rest?", nil
	}
	return "All customer data is encrypted with AES-256.", nil
}

func newTestServer(t *testing.T) (*Server, *srvStore) {
	t.Helper()
	st := newSrvStore()
	retry := pipeline.NewRetryPolicy(1, 0)
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:         st,
		Extractor:     srvExtractor{},
		Chunker:       srvChunker{},
		Index:         srvIndex{},
		LLM:           srvLLM{},
		IngestRetry:   &retry,
		GenerateRetry: &retry,
		Logger:        zerolog.Nop(),
	})
	coordinator := pipeline.NewCoordinator(st, runner, zerolog.Nop())
	srv := New(Config{Port: 0, StreamPollInterval: 10 * time.Millisecond}, coordinator, st, zerolog.Nop())
	return srv, st
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleProcessRFP_MissingDocumentID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/process-rfp", `{"knowledge_base_ids":[1]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "rfp_document_id is required")
}

func TestHandleProcessRFP_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/process-rfp", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProcessRFP_AcceptedAndCompletes(t *testing.T) {
	srv, st := newTestServer(t)
	st.documents[100] = &store.Document{
		ID: 100, DocumentType: store.TypeRFP, FilePath: "/docs/rfp.txt",
	}

	rec := doRequest(srv, http.MethodPost, "/api/process-rfp", `{"rfp_document_id":100}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ProcessRFPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, store.StatusPending, resp.Status)
	assert.Equal(t, "pool", resp.Method)

	require.Eventually(t, func() bool {
		task, err := st.GetTask(context.Background(), resp.TaskID)
		return err == nil && task != nil && task.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	statusRec := doRequest(srv, http.MethodGet, "/api/task-status/"+resp.TaskID, "")
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status TaskStatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, store.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "Processing complete", status.CurrentStep)
	require.NotNil(t, status.Result)

	var result pipeline.TaskResult
	require.NoError(t, json.Unmarshal(status.Result, &result))
	assert.Equal(t, 2, result.QuestionsCount)
	assert.Equal(t, 2, result.AnswersCount)
}

func TestHandleTaskStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/task-status/unknown-task", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTaskStatus_FailedTaskIncludesError(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateTask(context.Background(), &store.ProcessingTask{
		TaskID: "task-failed",
		Status: store.StatusFailed,
		Error:  "no questions found in RFP document 7",
	}))

	rec := doRequest(srv, http.MethodGet, "/api/task-status/task-failed", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var status TaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, store.StatusFailed, status.Status)
	assert.Equal(t, "no questions found in RFP document 7", status.Error)
	assert.Nil(t, status.Result)
}

func TestHandleListQuestions_UnknownDocument(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/documents/999/questions", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListQuestions_WithAnswers(t *testing.T) {
	srv, st := newTestServer(t)
	st.documents[100] = &store.Document{
		ID: 100, DocumentType: store.TypeRFP, FilePath: "/docs/rfp.txt",
	}
	questions, err := st.ReplaceQuestions(context.Background(), 100, []string{
		"What is your data retention policy?",
		"How is customer data encrypted at rest?",
	})
	require.NoError(t, err)
	_, err = st.UpsertAnswer(context.Background(), questions[0].ID, "Seven years.", 0.9, nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/documents/100/questions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var items []QuestionWithAnswer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Answer)
	assert.Equal(t, "Seven years.", items[0].Answer.AnswerText)
	assert.Nil(t, items[1].Answer)
}

func TestHandleEditAnswer_MarksEdited(t *testing.T) {
	srv, st := newTestServer(t)
	answer, err := st.UpsertAnswer(context.Background(), 1, "Generated answer.", 0.8, nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPatch,
		fmt.Sprintf("/api/answers/%d", answer.ID),
		`{"answer_text":"Reviewed and corrected answer."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var edited store.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.Equal(t, "Reviewed and corrected answer.", edited.AnswerText)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)
}

func TestHandleEditAnswer_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPatch, "/api/answers/12345", `{"answer_text":"text"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEditAnswer_MissingText(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPatch, "/api/answers/1", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "answer_text is required")
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
