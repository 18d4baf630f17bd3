// Package server provides the HTTP REST API for the RFP responder.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/pipeline"
	"github.com/proposalworks/rfp-responder/internal/store"
)

// Store is the slice of the durable store the HTTP layer reads and writes
// directly (everything pipeline-related goes through the coordinator).
type Store interface {
	GetDocument(ctx context.Context, id int64, documentType string) (*store.Document, error)
	ListQuestions(ctx context.Context, rfpDocumentID int64) ([]store.Question, error)
	GetAnswerByQuestion(ctx context.Context, questionID int64) (*store.Answer, error)
	EditAnswer(ctx context.Context, answerID int64, text string) (*store.Answer, error)
}

// Config holds server configuration.
type Config struct {
	Port int
	// StreamPollInterval is how often the SSE status stream re-reads the
	// task record. Defaults to 500ms.
	StreamPollInterval time.Duration
}

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	coordinator  *pipeline.Coordinator
	store        Store
	validate     *validator.Validate
	pollInterval time.Duration
	log          zerolog.Logger
}

// New creates a server around the coordinator and store.
func New(cfg Config, coordinator *pipeline.Coordinator, st Store, log zerolog.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = 500 * time.Millisecond
	}

	s := &Server{
		coordinator:  coordinator,
		store:        st,
		validate:     validator.New(),
		pollInterval: cfg.StreamPollInterval,
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process-rfp", s.handleProcessRFP)
	mux.HandleFunc("GET /api/task-status/{task_id}", s.handleTaskStatus)
	mux.HandleFunc("GET /api/task-status/{task_id}/stream", s.handleTaskStatusStream)
	mux.HandleFunc("GET /api/documents/{id}/questions", s.handleListQuestions)
	mux.HandleFunc("PATCH /api/answers/{id}", s.handleEditAnswer)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start serves HTTP until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down HTTP server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
