package domain

import "context"

// SourceKind identifies how a source is extracted.
type SourceKind string

const (
	KindText SourceKind = "text"
	KindDOCX SourceKind = "docx"
	KindPDF  SourceKind = "pdf"
	KindWeb  SourceKind = "web"
)

// SourceDocument is the raw text extracted from one uploaded file or URL.
// Text may be empty when extraction found nothing; that is not an error.
type SourceDocument struct {
	Origin string
	Title  string
	Kind   SourceKind
	Text   string
}

// Chunk is a bounded slice of a source document's text.
type Chunk struct {
	ID     string
	Origin string
	Text   string
	// Index is the position among chunks of the same source.
	Index int
	// Start is the rune offset of Text within the source text.
	Start int
}

// StoredVector is a chunk as persisted in a vector store partition.
type StoredVector struct {
	Chunk      Chunk
	Vector     []float64
	Namespace  string
	InsertedAt int64
}

// SearchResult represents a matching chunk with its cosine similarity.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits source documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Split(doc SourceDocument) []Chunk
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
