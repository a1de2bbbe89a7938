package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"docrag/internal/domain"
	"docrag/internal/loader"
	"docrag/internal/session"
	"docrag/internal/vectorstore"
)

// Outcome classifies an ingestion attempt for front ends and metrics.
type Outcome string

const (
	OutcomeLoaded      Outcome = "loaded"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeLimit       Outcome = "limit"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeExtraction  Outcome = "extraction_failed"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeExpired     Outcome = "expired"
	OutcomeError       Outcome = "error"
)

// OutcomeOf maps an Ingest error to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeLoaded
	case errors.Is(err, domain.ErrDuplicateSource):
		return OutcomeDuplicate
	case errors.Is(err, domain.ErrSourceLimitExceeded):
		return OutcomeLimit
	case errors.Is(err, domain.ErrUnsupportedSourceKind):
		return OutcomeUnsupported
	case errors.Is(err, domain.ErrExtractionFailed):
		return OutcomeExtraction
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrVectorStoreUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, domain.ErrSessionRetired):
		return OutcomeExpired
	}
	return OutcomeError
}

// IngestResult describes a source that was fully ingested.
type IngestResult struct {
	Origin     string
	Title      string
	Kind       domain.SourceKind
	Chunks     int
	Characters int
	Summary    string
}

// Ingest loads, chunks, embeds and stores src in the session's partition,
// then records its origin. A failure at any step records nothing.
func (s *Service) Ingest(ctx context.Context, sess *session.Session, src loader.Source) (res IngestResult, err error) {
	unlock := sess.LockIngest()
	defer unlock()

	log := s.log.WithFields(logrus.Fields{"session": sess.ID(), "origin": src.Origin})
	defer func() {
		s.obs.SourceIngested(OutcomeOf(err))
		if err != nil {
			log.WithError(err).WithField("outcome", OutcomeOf(err)).Warn("ingest rejected")
		}
	}()

	if sess.Retired() {
		return IngestResult{}, fmt.Errorf("%w: %s", domain.ErrSessionRetired, sess.ID())
	}
	if err := sess.Admit(src.Origin); err != nil {
		return IngestResult{}, err
	}
	doc, err := s.loader.Load(ctx, src)
	if err != nil {
		return IngestResult{}, err
	}

	chunks := s.chunker.Split(doc)
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return IngestResult{}, wrapUnavailable(domain.ErrEmbeddingUnavailable, err)
		}
		if len(vectors) != len(chunks) {
			return IngestResult{}, fmt.Errorf("%w: %d vectors for %d chunks", domain.ErrEmbeddingUnavailable, len(vectors), len(chunks))
		}
		if err := s.store.Upsert(ctx, vectorstore.Namespace(sess.ID()), chunks, vectors); err != nil {
			return IngestResult{}, wrapUnavailable(domain.ErrVectorStoreUnavailable, err)
		}
	} else {
		log.Warn("source has no text; recorded with zero vectors")
	}
	if err := sess.AddSource(src.Origin); err != nil {
		return IngestResult{}, err
	}
	sess.Touch()

	res = IngestResult{
		Origin:     src.Origin,
		Title:      doc.Title,
		Kind:       doc.Kind,
		Chunks:     len(chunks),
		Characters: utf8.RuneCountInString(doc.Text),
	}
	if s.summarizer != nil && doc.Text != "" {
		if sum, err := s.summarizer.Summarize(doc.Text, s.opts.SummarySentences); err == nil {
			res.Summary = sum
		} else {
			log.WithError(err).Debug("summary failed")
		}
	}
	log.WithFields(logrus.Fields{"chunks": res.Chunks, "kind": res.Kind}).Info("source ingested")
	return res, nil
}

// wrapUnavailable tags err with sentinel unless it already carries a
// domain error.
func wrapUnavailable(sentinel, err error) error {
	for _, known := range []error{sentinel, domain.ErrDimensionMismatch, domain.ErrInvalidInput} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
