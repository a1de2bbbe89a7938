// Package service is the retrieval-augmented responder: it ingests sources
// into a session's vector partition and answers questions against it.
package service

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"docrag/internal/domain"
	"docrag/internal/llm"
	"docrag/internal/loader"
	"docrag/internal/session"
	"docrag/internal/vectorstore"
)

// Loader extracts the text of one source.
type Loader interface {
	Load(ctx context.Context, src loader.Source) (domain.SourceDocument, error)
}

// Observer receives domain events, typically to update metrics.
type Observer interface {
	SourceIngested(outcome Outcome)
	AnswerFinished(augmented bool, reason Reason)
	AnswerFailed(state State)
}

type nopObserver struct{}

func (nopObserver) SourceIngested(Outcome)      {}
func (nopObserver) AnswerFinished(bool, Reason) {}
func (nopObserver) AnswerFailed(State)          {}

// Deps are the collaborators of a Service. Summarizer, Observer and Logger
// are optional.
type Deps struct {
	Loader     Loader
	Chunker    domain.Chunker
	Embedder   domain.Embedder
	Store      vectorstore.Storage
	Chat       llm.ChatModel
	Summarizer domain.Summarizer
	Observer   Observer
	Logger     logrus.FieldLogger
}

// Options are fixed for the lifetime of a Service.
type Options struct {
	TopK int
	// HistoryMessages bounds how many prior messages are sent with a
	// question. Zero means DefaultHistoryMessages, negative sends none.
	HistoryMessages int
	Temperature     float64
	DefaultModel    string
	// Models lists the chat models a caller may pick. Empty allows any.
	Models           []string
	SummarySentences int
}

const (
	DefaultHistoryMessages  = 20
	DefaultSummarySentences = 2
)

type Service struct {
	loader     Loader
	chunker    domain.Chunker
	embedder   domain.Embedder
	store      vectorstore.Storage
	chat       llm.ChatModel
	summarizer domain.Summarizer
	obs        Observer
	log        logrus.FieldLogger
	opts       Options
}

func New(d Deps, o Options) (*Service, error) {
	if d.Loader == nil || d.Chunker == nil || d.Embedder == nil || d.Store == nil || d.Chat == nil {
		return nil, fmt.Errorf("%w: service needs a loader, chunker, embedder, store and chat model", domain.ErrInvalidConfig)
	}
	if o.TopK <= 0 {
		o.TopK = vectorstore.DefaultTopK
	}
	switch {
	case o.HistoryMessages < 0:
		o.HistoryMessages = 0
	case o.HistoryMessages == 0:
		o.HistoryMessages = DefaultHistoryMessages
	}
	if o.Temperature == 0 {
		o.Temperature = llm.DefaultTemperature
	}
	if o.SummarySentences <= 0 {
		o.SummarySentences = DefaultSummarySentences
	}
	s := &Service{
		loader:     d.Loader,
		chunker:    d.Chunker,
		embedder:   d.Embedder,
		store:      d.Store,
		chat:       d.Chat,
		summarizer: d.Summarizer,
		obs:        d.Observer,
		log:        d.Logger,
		opts:       o,
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s, nil
}

// Models returns the selectable chat models, default first.
func (s *Service) Models() []string {
	out := []string{}
	if s.opts.DefaultModel != "" {
		out = append(out, s.opts.DefaultModel)
	}
	for _, m := range s.opts.Models {
		if m != s.opts.DefaultModel {
			out = append(out, m)
		}
	}
	return out
}

// Reset deletes the session's partition, then forgets its sources and
// history. The session keeps its ID. When the delete fails nothing is
// forgotten, so the caller may retry.
func (s *Service) Reset(ctx context.Context, sess *session.Session) error {
	unlock := sess.LockIngest()
	defer unlock()

	log := s.log.WithField("session", sess.ID())
	if err := s.store.DeletePartition(ctx, vectorstore.Namespace(sess.ID())); err != nil {
		log.WithError(err).Error("reset: deleting partition failed")
		return fmt.Errorf("reset session %s: %w", sess.ID(), err)
	}
	n := len(sess.Sources())
	sess.Clear()
	log.WithField("sources", n).Info("session reset")
	return nil
}

// Retire ends sess for good: after any in-flight ingest finishes it stops
// accepting sources, then its partition and state are dropped as in Reset.
// The session stays retired even when the partition delete fails.
func (s *Service) Retire(ctx context.Context, sess *session.Session) error {
	unlock := sess.LockIngest()
	sess.Retire()
	unlock()
	return s.Reset(ctx, sess)
}
