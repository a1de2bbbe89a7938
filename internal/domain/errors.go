package domain

import "errors"

// Ingestion errors are local and user-visible: the attempt is reported and
// not applied.
var (
	// ErrUnsupportedSourceKind indicates a file extension or URL scheme no
	// extractor handles.
	ErrUnsupportedSourceKind = errors.New("unsupported source kind")

	// ErrDuplicateSource indicates the origin is already loaded in the session.
	ErrDuplicateSource = errors.New("source already loaded")

	// ErrSourceLimitExceeded indicates the session holds its maximum number of sources.
	ErrSourceLimitExceeded = errors.New("source limit reached")

	// ErrExtractionFailed indicates the format extractor could not produce text.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrSessionRetired indicates the session expired and its partition was
	// dropped; nothing more may be written under it.
	ErrSessionRetired = errors.New("session expired")
)

// ErrDimensionMismatch is a fatal configuration error: the embedding model
// and the vector partition disagree on vector length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Transient service errors, surfaced after the retry budget is spent.
var (
	ErrEmbeddingUnavailable   = errors.New("embedding service unavailable")
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	ErrGenerationUnavailable  = errors.New("generation service unavailable")
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid configuration")
)
