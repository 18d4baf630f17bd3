package extract

import "strings"

// Chunker splits extracted text into overlapping retrieval units. Cuts
// prefer a paragraph boundary, then a sentence boundary, else a hard cut.
type Chunker struct {
	Size    int // target chunk size in bytes
	Overlap int // bytes carried over between consecutive chunks
}

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// NewChunker returns a chunker with the given size and overlap, falling
// back to the defaults for non-positive values.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap <= 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the ordered chunks of text. Empty input yields nil.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.Size

		if end < len(text) {
			// Prefer to cut at a paragraph break, then a sentence break.
			if bp := strings.LastIndex(text[start:end], "\n\n"); bp > 0 {
				end = start + bp
			} else if bp := strings.LastIndex(text[start:end], ". "); bp > 0 {
				end = start + bp + 1
			}
		} else {
			end = len(text)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(text) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			// Boundary search can pull end close to start; force progress.
			next = end
		}
		start = next
	}
	return chunks
}
