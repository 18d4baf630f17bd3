package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/proposalworks/rfp-responder/internal/config"
	"github.com/proposalworks/rfp-responder/internal/extract"
	"github.com/proposalworks/rfp-responder/internal/llm"
	"github.com/proposalworks/rfp-responder/internal/pipeline"
	"github.com/proposalworks/rfp-responder/internal/server"
	"github.com/proposalworks/rfp-responder/internal/store"
	"github.com/proposalworks/rfp-responder/internal/vector"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes the asynchronous RFP processing pipeline and task status endpoints.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	llmClient, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, llm.WithModel(cfg.GeminiModel))
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer llmClient.Close() //nolint:errcheck

	index, err := vector.NewIndex(vector.Config{
		Path:         cfg.VectorDBPath,
		Collection:   cfg.VectorCollection,
		EmbedBaseURL: cfg.EmbedBaseURL,
		EmbedAPIKey:  cfg.EmbedAPIKey,
		EmbedModel:   cfg.EmbedModel,
	})
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:         db,
		Extractor:     extract.NewExtractor(),
		Chunker:       extract.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		Index:         index,
		LLM:           llmClient,
		BatchWidth:    cfg.BatchWidth,
		ContextChunks: cfg.ContextChunks,
		Logger:        log,
	})
	coordinator := pipeline.NewCoordinator(db, runner, log)

	srv := server.New(server.Config{Port: cfg.Port}, coordinator, db, log)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gCtx)
	})
	g.Go(func() error {
		return runRetentionJanitor(gCtx, db, cfg.TaskRetention, cfg.CleanupInterval, log)
	})

	return g.Wait()
}

// runRetentionJanitor periodically deletes terminal task records older
// than the retention window.
func runRetentionJanitor(ctx context.Context, db *store.DB, retention, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := db.DeleteTasksBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("task retention cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("cleaned expired tasks")
			}
		}
	}
}
