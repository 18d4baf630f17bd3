// Package vector provides the semantic search index used for
// retrieval-augmented answer generation, backed by chromem-go.
package vector

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// Match is one retrieval hit. Distance is cosine distance in [0, 2];
// 0 means identical, 2 means opposite.
type Match struct {
	Text       string
	DocumentID string
	ChunkIndex int
	Distance   float64
}

// Index stores and searches document chunks by semantic similarity.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Config controls where the index persists and how chunks are embedded.
type Config struct {
	Path         string // directory for the persistent database
	Collection   string // collection name, e.g. "rfp_documents"
	EmbedBaseURL string // OpenAI-compatible embeddings endpoint
	EmbedAPIKey  string
	EmbedModel   string
	InMemory     bool // ephemeral database, no persistence
}

// NewIndex opens (or creates) the vector database and its collection.
// A missing embeddings endpoint is a construction error, not a per-call
// surprise.
func NewIndex(cfg Config) (*Index, error) {
	if !cfg.InMemory && cfg.EmbedBaseURL == "" {
		return nil, fmt.Errorf("vector index requires an embeddings endpoint")
	}
	if cfg.Collection == "" {
		cfg.Collection = "rfp_documents"
	}

	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	}

	var embed chromem.EmbeddingFunc
	if cfg.EmbedBaseURL != "" {
		normalized := true
		embed = chromem.NewEmbeddingFuncOpenAICompat(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, &normalized)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", cfg.Collection, err)
	}

	return &Index{db: db, collection: collection}, nil
}

// Add embeds and stores the chunks of one document. Chunk ids encode the
// document id and chunk index so re-adding a document overwrites in place.
func (ix *Index) Add(ctx context.Context, documentID string, chunks []string, metadata map[string]string) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]string{
			"document_id": documentID,
			"chunk_index": strconv.Itoa(i),
		}
		for k, v := range metadata {
			meta[k] = v
		}
		docs = append(docs, chromem.Document{
			ID:       fmt.Sprintf("doc%s_chunk%d", documentID, i),
			Content:  chunk,
			Metadata: meta,
		})
	}

	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add document %s to index: %w", documentID, err)
	}
	return nil
}

// Search returns up to n matches for the query, best first. Asking for
// more results than the collection holds is clamped, not an error.
func (ix *Index) Search(ctx context.Context, query string, n int) ([]Match, error) {
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := ix.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])
		matches = append(matches, Match{
			Text:       r.Content,
			DocumentID: r.Metadata["document_id"],
			ChunkIndex: chunkIndex,
			// chromem reports cosine similarity in [-1, 1].
			Distance: 1 - float64(r.Similarity),
		})
	}
	return matches, nil
}

// Delete removes every chunk belonging to a document.
func (ix *Index) Delete(ctx context.Context, documentID string) error {
	err := ix.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete document %s from index: %w", documentID, err)
	}
	return nil
}
