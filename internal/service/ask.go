package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"docrag/internal/domain"
	"docrag/internal/llm"
	"docrag/internal/session"
	"docrag/internal/vectorstore"
)

type AskOptions struct {
	// UseRAG asks for retrieval. It takes effect only when the session has
	// at least one loaded source.
	UseRAG bool
	// Model picks one of the configured chat models; empty is the default.
	Model string
}

// Ask runs the responder up to the point where the model starts answering
// and returns the Answer to stream from. A failure before streaming returns
// the Answer in StateFailed together with the error.
func (s *Service) Ask(ctx context.Context, sess *session.Session, question string, opts AskOptions) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	model, err := s.pickModel(opts.Model)
	if err != nil {
		return nil, err
	}
	sess.Touch()

	a := newAnswer(sess, question)
	a.Model = model
	log := s.log.WithField("session", sess.ID())
	a.onFail = func(from State, err error) {
		s.obs.AnswerFailed(from)
		log.WithError(err).WithField("state", from).Error("answer failed")
	}

	switch {
	case !opts.UseRAG:
		a.Reason = ReasonDisabled
	case len(sess.Sources()) == 0:
		a.Reason = ReasonNoSources
	default:
		if err := s.retrieve(ctx, sess, a, log); err != nil {
			return a, err
		}
	}

	a.to(StateGenerating)
	req := llm.Request{
		Model:       model,
		Messages:    buildMessages(sess.History(), s.opts.HistoryMessages, a.Context, a.Reason, question),
		Temperature: s.opts.Temperature,
	}
	stream, err := s.chat.Chat(ctx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
		}
		return a, a.fail(err)
	}
	a.stream = stream
	a.onDone = func(a *Answer) {
		s.obs.AnswerFinished(a.Augmented, a.Reason)
		log.WithFields(logrus.Fields{"augmented": a.Augmented, "reason": a.Reason, "chars": a.text.Len()}).Debug("answer complete")
	}
	return a, nil
}

// retrieve walks embedding_query and retrieving. Only an embedding failure
// is fatal; a store failure degrades to plain generation.
func (s *Service) retrieve(ctx context.Context, sess *session.Session, a *Answer, log logrus.FieldLogger) error {
	a.to(StateEmbeddingQuery)
	vec, err := s.embedder.EmbedQuery(ctx, a.question)
	if err != nil {
		return a.fail(wrapUnavailable(domain.ErrEmbeddingUnavailable, err))
	}

	a.to(StateRetrieving)
	results, err := s.store.Query(ctx, vectorstore.Namespace(sess.ID()), vec, s.opts.TopK)
	switch {
	case err != nil:
		a.Reason = ReasonStoreUnavailable
		log.WithError(err).Warn("retrieval unavailable; answering without reference material")
	case len(results) == 0:
		a.Reason = ReasonNoMatches
	default:
		a.Augmented = true
		a.Reason = ReasonRetrieved
		a.Context = results
	}
	log.WithFields(logrus.Fields{"state": a.state, "results": len(results)}).Debug("retrieval finished")
	return nil
}

func (s *Service) pickModel(m string) (string, error) {
	if m == "" || m == s.opts.DefaultModel {
		return s.opts.DefaultModel, nil
	}
	if len(s.opts.Models) > 0 && !slices.Contains(s.opts.Models, m) {
		return "", fmt.Errorf("%w: unknown model %q", domain.ErrInvalidInput, m)
	}
	return m, nil
}
