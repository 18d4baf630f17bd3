package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/store"
	"github.com/proposalworks/rfp-responder/internal/vector"
)

var testLogger = zerolog.Nop()

// memStore is an in-memory Store for pipeline tests. Reads return copies so
// callers see row snapshots, the way the database does.
type memStore struct {
	mu        sync.Mutex
	documents map[int64]*store.Document
	questions map[int64][]store.Question
	answers   map[int64]*store.Answer
	tasks     map[string]*store.ProcessingTask
	nextID    int64

	// Fault injection: remaining forced GetAnswerByQuestion failures per
	// question, and a hook consulted before UpdateTask persists.
	answerReadErrs map[int64]int
	updateTaskHook func(task *store.ProcessingTask) error
}

func newMemStore() *memStore {
	return &memStore{
		documents: make(map[int64]*store.Document),
		questions: make(map[int64][]store.Question),
		answers:   make(map[int64]*store.Answer),
		tasks:     make(map[string]*store.ProcessingTask),
	}
}

func (m *memStore) addDocument(doc store.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := doc
	m.documents[d.ID] = &d
}

func (m *memStore) GetDocument(_ context.Context, id int64, documentType string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.DocumentType != documentType {
		return nil, nil
	}
	d := *doc
	return &d, nil
}

func (m *memStore) MarkDocumentProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %d not found", id)
	}
	now := time.Now()
	doc.Processed = true
	doc.ProcessedAt = &now
	return nil
}

func (m *memStore) SetDocumentMetadata(_ context.Context, id int64, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %d not found", id)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	for k, v := range metadata {
		doc.Metadata[k] = v
	}
	return nil
}

func (m *memStore) ReplaceQuestions(_ context.Context, rfpDocumentID int64, texts []string) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Questions with unchanged text keep their id and answer, mirroring the
	// SQL reconciliation; the rest are replaced and their answers dropped.
	existing := make(map[string]store.Question)
	for _, q := range m.questions[rfpDocumentID] {
		existing[q.QuestionText] = q
	}

	questions := make([]store.Question, 0, len(texts))
	keptIDs := make(map[int64]bool, len(texts))
	for i, text := range texts {
		if q, ok := existing[text]; ok {
			q.QuestionNumber = i + 1
			questions = append(questions, q)
			keptIDs[q.ID] = true
			delete(existing, text)
			continue
		}
		m.nextID++
		questions = append(questions, store.Question{
			ID:             m.nextID,
			RFPDocumentID:  rfpDocumentID,
			QuestionText:   text,
			QuestionNumber: i + 1,
			ExtractedAt:    time.Now(),
		})
	}

	for _, q := range m.questions[rfpDocumentID] {
		if !keptIDs[q.ID] {
			delete(m.answers, q.ID)
		}
	}

	m.questions[rfpDocumentID] = questions
	out := make([]store.Question, len(questions))
	copy(out, questions)
	return out, nil
}

func (m *memStore) ListQuestions(_ context.Context, rfpDocumentID int64) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Question, len(m.questions[rfpDocumentID]))
	copy(out, m.questions[rfpDocumentID])
	return out, nil
}

func (m *memStore) GetAnswerByQuestion(_ context.Context, questionID int64) (*store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answerReadErrs[questionID] > 0 {
		m.answerReadErrs[questionID]--
		return nil, fmt.Errorf("connection reset")
	}
	answer, ok := m.answers[questionID]
	if !ok {
		return nil, nil
	}
	a := *answer
	return &a, nil
}

func (m *memStore) UpsertAnswer(_ context.Context, questionID int64, text string, confidence float64, sources []store.SourceRef) (*store.Answer, error) {
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

func (m *memStore) CreateTask(_ context.Context, task *store.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

func (m *memStore) GetTask(_ context.Context, taskID string) (*store.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	t := *task
	return &t, nil
}

func (m *memStore) UpdateTask(_ context.Context, task *store.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.TaskID]; !ok {
		return fmt.Errorf("task %s not found", task.TaskID)
	}
	if m.updateTaskHook != nil {
		if err := m.updateTaskHook(task); err != nil {
			return err
		}
	}
	task.UpdatedAt = time.Now()
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

// fakeExtractor maps file paths to text or an error.
type fakeExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeExtractor) Extract(path string) (string, error) {
	if err, ok := f.errs[path]; ok {
		return "", err
	}
	return f.texts[path], nil
}

// fixedChunker splits on a marker so tests control chunk boundaries.
type fixedChunker struct{ chunks []string }

func (c *fixedChunker) Split(string) []string { return c.chunks }

// fakeIndex records Add calls and serves canned search results.
type fakeIndex struct {
	mu      sync.Mutex
	added   map[string][]string // documentID -> chunks
	matches []vector.Match
	addErr  error
	findErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{added: make(map[string][]string)}
}

func (f *fakeIndex) Add(_ context.Context, documentID string, chunks []string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added[documentID] = chunks
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, n int) ([]vector.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if n > len(f.matches) {
		n = len(f.matches)
	}
	out := make([]vector.Match, n)
	copy(out, f.matches[:n])
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.added, documentID)
	return nil
}

// fakeLLM answers every prompt through fn.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
	fn    func(prompt string, temperature float32, maxTokens int) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(prompt, temperature, maxTokens)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// instantRetry is a 3-attempt policy with no backoff wait.
func instantRetry() *RetryPolicy {
	p := NewRetryPolicy(3, 0)
	return &p
}
