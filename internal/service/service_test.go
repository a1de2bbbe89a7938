package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/embedding/hashing"
	"docrag/internal/llm"
	"docrag/internal/loader"
	"docrag/internal/session"
	"docrag/internal/summarizer"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
)

const dim = 64

// fakeLoader serves texts keyed by origin.
type fakeLoader struct {
	texts map[string]string
	err   error
}

func (f *fakeLoader) Load(_ context.Context, src loader.Source) (domain.SourceDocument, error) {
	if f.err != nil {
		return domain.SourceDocument{}, f.err
	}
	if _, err := loader.KindOf(src.Origin); err != nil {
		return domain.SourceDocument{}, err
	}
	text, ok := f.texts[src.Origin]
	if !ok {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, src.Origin)
	}
	return domain.SourceDocument{Origin: src.Origin, Title: src.Origin, Kind: domain.KindText, Text: text}, nil
}

// scriptedChat records requests and streams the configured fragments.
type scriptedChat struct {
	mu        sync.Mutex
	requests  []llm.Request
	fragments []string
	err       error
	streamErr error
}

func (c *scriptedChat) Chat(_ context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &scriptedStream{fragments: append([]string(nil), c.fragments...), err: c.streamErr}, nil
}

func (c *scriptedChat) last() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

type scriptedStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *scriptedStream) Recv() (string, bool, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", true, s.err
		}
		return "", true, nil
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, false, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// flakyStore fails the selected operations.
type flakyStore struct {
	vectorstore.Storage
	upsertErr, queryErr, deleteErr error
}

func (f *flakyStore) Upsert(ctx context.Context, ns string, c []domain.Chunk, v [][]float64) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Storage.Upsert(ctx, ns, c, v)
}

func (f *flakyStore) Query(ctx context.Context, ns string, v []float64, k int) ([]domain.SearchResult, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Storage.Query(ctx, ns, v, k)
}

func (f *flakyStore) DeletePartition(ctx context.Context, ns string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Storage.DeletePartition(ctx, ns)
}

// flakyEmbedder fails after the dimension probe.
type flakyEmbedder struct {
	domain.Embedder
	docsErr, queryErr error
}

func (f *flakyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if f.docsErr != nil {
		return nil, f.docsErr
	}
	return f.Embedder.EmbedDocuments(ctx, texts)
}

func (f *flakyEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Embedder.EmbedQuery(ctx, text)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	answers  []Reason
	failures []State
}

func (o *recordingObserver) SourceIngested(out Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
}

func (o *recordingObserver) AnswerFinished(_ bool, r Reason) {
	o.mu.Lock()
	o.answers = append(o.answers, r)
	o.mu.Unlock()
}

func (o *recordingObserver) AnswerFailed(s State) {
	o.mu.Lock()
	o.failures = append(o.failures, s)
	o.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *memory.Storage
	flaky    *flakyStore
	embedder *flakyEmbedder
	chat     *scriptedChat
	loader   *fakeLoader
	obs      *recordingObserver
	hook     *test.Hook
}

func newFixture(t *testing.T, size, overlap int) *fixture {
	t.Helper()
	ch, err := chunker.New(size, overlap)
	require.NoError(t, err)
	checked, err := embedding.NewChecked(context.Background(), hashing.New(dim), dim)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:    memory.NewStorage(),
		chat:     &scriptedChat{fragments: []string{"Your name ", "is Ana."}},
		loader:   &fakeLoader{texts: map[string]string{}},
		obs:      &recordingObserver{},
		hook:     hook,
		embedder: &flakyEmbedder{Embedder: checked},
	}
	f.flaky = &flakyStore{Storage: f.store}
	f.svc, err = New(Deps{
		Loader:     f.loader,
		Chunker:    ch,
		Embedder:   f.embedder,
		Store:      f.flaky,
		Chat:       f.chat,
		Summarizer: summarizer.New(),
		Observer:   f.obs,
		Logger:     logger,
	}, Options{TopK: 5, DefaultModel: "gpt-4o-mini", Models: []string{"gpt-4o-mini", "gpt-4o"}})
	require.NoError(t, err)
	return f
}

func (f *fixture) count(sess *session.Session) int {
	return f.store.Count(vectorstore.Namespace(sess.ID()))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestIngest_AnaExample(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	f.loader.texts["ana.txt"] = "My name is Ana. I study physics."
	sess := session.New(10)

	res, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "ana.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 32, res.Characters)
	assert.NotEmpty(t, res.Summary)
	assert.Equal(t, 1, f.count(sess))
	assert.Equal(t, []string{"ana.txt"}, sess.Sources())

	ans, err := f.svc.Ask(context.Background(), sess, "What is my name?", AskOptions{UseRAG: true})
	require.NoError(t, err)
	require.Len(t, ans.Context, 1)
	assert.Greater(t, ans.Context[0].Score, 0.0)
	assert.True(t, ans.Augmented)
	assert.Equal(t, ReasonRetrieved, ans.Reason)
	assert.Equal(t, []string{"ana.txt"}, ans.Sources())

	text, err := ans.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Your name is Ana.", text)
	assert.Equal(t, []State{StateIdle, StateEmbeddingQuery, StateRetrieving, StateGenerating, StateStreaming, StateDone}, ans.Transitions())

	sys := f.chat.last().Messages[0]
	assert.Equal(t, llm.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "Reference material")
	assert.Contains(t, sys.Content, "My name is Ana. I study physics.")
	assert.Equal(t, []Outcome{OutcomeLoaded}, f.obs.outcomes)
	assert.Equal(t, []Reason{ReasonRetrieved}, f.obs.answers)
}

func TestIngest_DuplicateKeepsFirstVectors(t *testing.T) {
	f := newFixture(t, 10, 2)
	f.loader.texts["a.txt"] = strings.Repeat("abcdefgh ", 5)
	sess := session.New(10)

	res, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	first := f.count(sess)
	assert.Equal(t, res.Chunks, first)

	_, err = f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSource)
	assert.Equal(t, first, f.count(sess))
	assert.Equal(t, []string{"a.txt"}, sess.Sources())
	assert.Equal(t, []Outcome{OutcomeLoaded, OutcomeDuplicate}, f.obs.outcomes)
}

func TestIngest_LimitStopsGrowth(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(3)
	for i := 0; i < 5; i++ {
		origin := fmt.Sprintf("doc%d.md", i)
		f.loader.texts[origin] = fmt.Sprintf("document number %d", i)
		_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: origin})
		if i < 3 {
			require.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSourceLimitExceeded)
	}
	assert.Equal(t, 3, f.count(sess))
	assert.Len(t, sess.Sources(), 3)
}

func TestIngest_FailuresRecordNothing(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		setup   func(f *fixture)
		wantErr error
		outcome Outcome
	}{
		{"unsupported", "x.png", nil, domain.ErrUnsupportedSourceKind, OutcomeUnsupported},
		{"extraction", "missing.txt", nil, domain.ErrExtractionFailed, OutcomeExtraction},
		{"embedding", "a.txt", func(f *fixture) { f.embedder.docsErr = errors.New("429") }, domain.ErrEmbeddingUnavailable, OutcomeUnavailable},
		{"store", "a.txt", func(f *fixture) { f.flaky.upsertErr = errors.New("connection refused") }, domain.ErrVectorStoreUnavailable, OutcomeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100, 10)
			f.loader.texts["a.txt"] = "some text"
			if tt.setup != nil {
				tt.setup(f)
			}
			sess := session.New(10)
			_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: tt.origin})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, sess.Sources())
			assert.Zero(t, f.count(sess))
			assert.Equal(t, []Outcome{tt.outcome}, f.obs.outcomes)
			assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
		})
	}
}

func TestIngest_EmptyTextIsRecorded(t *testing.T) {
	f := newFixture(t, 100, 10)
	f.loader.texts["blank.txt"] = ""
	sess := session.New(10)

	res, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "blank.txt"})
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Empty(t, res.Summary)
	assert.Equal(t, []string{"blank.txt"}, sess.Sources())

	ans, err := f.svc.Ask(context.Background(), sess, "anything there?", AskOptions{UseRAG: true})
	require.NoError(t, err)
	assert.False(t, ans.Augmented)
	assert.Equal(t, ReasonNoMatches, ans.Reason)
	_, err = ans.Collect()
	require.NoError(t, err)
	assert.NotContains(t, f.chat.last().Messages[0].Content, "Reference material")
	assert.Contains(t, f.chat.last().Messages[0].Content, "No relevant passages")
}

func TestIngest_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, 1000, 0)
	f.loader.texts["a.txt"] = "alpha secret"
	f.loader.texts["b.txt"] = "beta secret"
	a, b := session.New(10), session.New(10)

	_, err := f.svc.Ingest(context.Background(), a, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	_, err = f.svc.Ingest(context.Background(), b, loader.Source{Origin: "b.txt"})
	require.NoError(t, err)

	ans, err := f.svc.Ask(context.Background(), a, "secret", AskOptions{UseRAG: true})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Context)
	for _, r := range ans.Context {
		assert.Equal(t, "a.txt", r.Chunk.Origin)
	}
}

func TestIngest_ConcurrentInOneSession(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(4)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		origin := fmt.Sprintf("c%d.txt", i)
		f.loader.texts[origin] = "text " + origin
	}
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Ingest(context.Background(), sess, loader.Source{Origin: fmt.Sprintf("c%d.txt", i)})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrSourceLimitExceeded)
		}
	}
	assert.Equal(t, 4, ok)
	assert.Len(t, sess.Sources(), 4)
	assert.Equal(t, 4, f.count(sess))
}

func TestAsk_RAGDisabled(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{UseRAG: false})
	require.NoError(t, err)
	_, err = ans.Collect()
	require.NoError(t, err)
	assert.False(t, ans.Augmented)
	assert.Equal(t, ReasonDisabled, ans.Reason)
	assert.Equal(t, []State{StateIdle, StateGenerating, StateStreaming, StateDone}, ans.Transitions())
}

func TestAsk_NoSourcesIsPlainAnswer(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)
	f.embedder.queryErr = errors.New("must not be called")

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{UseRAG: true})
	require.NoError(t, err)
	text, err := ans.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Your name is Ana.", text)
	assert.False(t, ans.Augmented)
	assert.Equal(t, ReasonNoSources, ans.Reason)
	assert.Equal(t, StateDone, ans.State())
	assert.Contains(t, f.chat.last().Messages[0].Content, "No relevant passages")
}

func TestAsk_EmbeddingFailureFails(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	f.embedder.queryErr = errors.New("timeout")

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{UseRAG: true})
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	require.NotNil(t, ans)
	assert.Equal(t, StateFailed, ans.State())
	assert.Equal(t, []State{StateIdle, StateEmbeddingQuery, StateFailed}, ans.Transitions())
	assert.Empty(t, f.chat.requests)
	assert.Equal(t, []State{StateEmbeddingQuery}, f.obs.failures)
	assert.Empty(t, sess.History())
}

func TestAsk_StoreFailureDegrades(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	f.flaky.queryErr = fmt.Errorf("%w: 503", domain.ErrVectorStoreUnavailable)
	f.hook.Reset()

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{UseRAG: true})
	require.NoError(t, err)
	_, err = ans.Collect()
	require.NoError(t, err)
	assert.False(t, ans.Augmented)
	assert.Equal(t, ReasonStoreUnavailable, ans.Reason)
	assert.Equal(t, []State{StateIdle, StateEmbeddingQuery, StateRetrieving, StateGenerating, StateStreaming, StateDone}, ans.Transitions())

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "retrieval unavailable") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestAsk_GenerationFailure(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)
	f.chat.err = errors.New("502")

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{})
	require.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, StateFailed, ans.State())
	assert.Equal(t, []State{StateGenerating}, f.obs.failures)
}

func TestAsk_MidStreamFailureKeepsHistory(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)
	f.chat.streamErr = errors.New("connection reset")

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{})
	require.NoError(t, err)
	text, err := ans.Collect()
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, "Your name is Ana.", text)
	assert.Equal(t, StateFailed, ans.State())
	assert.Empty(t, sess.History())

	_, done, err := ans.Next()
	assert.True(t, done)
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
}

func TestAsk_AbandonedStreamLeavesSession(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)

	ans, err := f.svc.Ask(context.Background(), sess, "hello", AskOptions{})
	require.NoError(t, err)
	frag, done, err := ans.Next()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Your name ", frag)
	require.NoError(t, ans.Close())

	_, done, err = ans.Next()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, StateStreaming, ans.State())
	assert.Empty(t, sess.History())
	assert.Empty(t, f.obs.answers)
}

func TestAsk_HistoryIsSentAndBounded(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.svc.opts.HistoryMessages = 2
	sess := session.New(10)

	for _, q := range []string{"first", "second"} {
		ans, err := f.svc.Ask(context.Background(), sess, q, AskOptions{})
		require.NoError(t, err)
		_, err = ans.Collect()
		require.NoError(t, err)
	}
	require.Len(t, sess.History(), 4)

	msgs := f.chat.last().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Your name is Ana."}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "second"}, msgs[3])

	ans, err := f.svc.Ask(context.Background(), sess, "third", AskOptions{})
	require.NoError(t, err)
	_, err = ans.Collect()
	require.NoError(t, err)
	msgs = f.chat.last().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestAsk_ModelSelection(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)

	ans, err := f.svc.Ask(context.Background(), sess, "hi", AskOptions{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", ans.Model)
	assert.Equal(t, "gpt-4o", f.chat.last().Model)
	assert.InDelta(t, llm.DefaultTemperature, f.chat.last().Temperature, 1e-9)

	ans, err = f.svc.Ask(context.Background(), sess, "hi", AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", ans.Model)

	_, err = f.svc.Ask(context.Background(), sess, "hi", AskOptions{Model: "davinci"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Ask(context.Background(), sess, "   ", AskOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, f.svc.Models())
}

func TestReset(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)
	id := sess.ID()
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	sess.AppendExchange("q", "a")

	require.NoError(t, f.svc.Reset(context.Background(), sess))
	assert.Equal(t, id, sess.ID())
	assert.Empty(t, sess.Sources())
	assert.Empty(t, sess.History())
	assert.Zero(t, f.count(sess))

	require.NoError(t, f.svc.Reset(context.Background(), sess))

	_, err = f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(sess))
}

func TestReset_DeleteFailureKeepsSources(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)
	f.flaky.deleteErr = fmt.Errorf("%w: timeout", domain.ErrVectorStoreUnavailable)

	err = f.svc.Reset(context.Background(), sess)
	assert.ErrorIs(t, err, domain.ErrVectorStoreUnavailable)
	assert.Equal(t, []string{"a.txt"}, sess.Sources())
	assert.Equal(t, logrus.ErrorLevel, f.hook.LastEntry().Level)
}

func TestRetire_RejectsLaterIngest(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	f.loader.texts["b.txt"] = "more content"
	sess := session.New(10)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Retire(context.Background(), sess))
	assert.True(t, sess.Retired())
	assert.Empty(t, sess.Sources())

	_, err = f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "b.txt"})
	assert.ErrorIs(t, err, domain.ErrSessionRetired)
	assert.Empty(t, sess.Sources())
	assert.Zero(t, f.count(sess))
	assert.Equal(t, OutcomeExpired, f.obs.outcomes[len(f.obs.outcomes)-1])
}

func TestRetire_WaitsForInFlightIngest(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.loader.texts["a.txt"] = "content"
	sess := session.New(10)

	unlock := sess.LockIngest()
	retired := make(chan error, 1)
	go func() { retired <- f.svc.Retire(context.Background(), sess) }()
	assert.False(t, sess.Retired())
	unlock()

	require.NoError(t, <-retired)
	_, err := f.svc.Ingest(context.Background(), sess, loader.Source{Origin: "a.txt"})
	assert.ErrorIs(t, err, domain.ErrSessionRetired)
	assert.Zero(t, f.count(sess))
}

func TestRetire_DeleteFailureStillRetires(t *testing.T) {
	f := newFixture(t, 100, 0)
	sess := session.New(10)
	f.flaky.deleteErr = fmt.Errorf("%w: timeout", domain.ErrVectorStoreUnavailable)

	assert.ErrorIs(t, f.svc.Retire(context.Background(), sess), domain.ErrVectorStoreUnavailable)
	assert.True(t, sess.Retired())
}

func TestBuildMessages(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "1"}, {Role: llm.RoleAssistant, Content: "2"},
		{Role: llm.RoleUser, Content: "3"}, {Role: llm.RoleAssistant, Content: "4"},
	}
	msgs := buildMessages(history, 2, nil, ReasonDisabled, "q")
	require.Len(t, msgs, 4)
	assert.Equal(t, plainPrompt, msgs[0].Content)
	assert.Equal(t, "3", msgs[1].Content)

	material := []domain.SearchResult{
		{Chunk: domain.Chunk{Origin: "b.txt", Text: "second best"}, Score: 0.5},
		{Chunk: domain.Chunk{Origin: "a.txt", Text: "best"}, Score: 0.9},
	}
	msgs = buildMessages(nil, 10, material, ReasonRetrieved, "q")
	require.Len(t, msgs, 2)
	sys := msgs[0].Content
	assert.Less(t, strings.Index(sys, "second best"), strings.Index(sys, "[2] a.txt"))
	assert.Contains(t, sys, "[1] b.txt\nsecond best")

	msgs = buildMessages(nil, 10, nil, ReasonNoMatches, "q")
	assert.Contains(t, msgs[0].Content, "No relevant passages")
	assert.NotContains(t, msgs[0].Content, "Reference material")

	msgs = buildMessages(nil, 10, nil, ReasonNoSources, "q")
	assert.Contains(t, msgs[0].Content, "No relevant passages")
	msgs = buildMessages(nil, 10, nil, ReasonStoreUnavailable, "q")
	assert.Equal(t, plainPrompt, msgs[0].Content)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeLoaded, OutcomeOf(nil))
	assert.Equal(t, OutcomeDuplicate, OutcomeOf(fmt.Errorf("x: %w", domain.ErrDuplicateSource)))
	assert.Equal(t, OutcomeLimit, OutcomeOf(domain.ErrSourceLimitExceeded))
	assert.Equal(t, OutcomeUnsupported, OutcomeOf(domain.ErrUnsupportedSourceKind))
	assert.Equal(t, OutcomeExtraction, OutcomeOf(domain.ErrExtractionFailed))
	assert.Equal(t, OutcomeUnavailable, OutcomeOf(domain.ErrEmbeddingUnavailable))
	assert.Equal(t, OutcomeUnavailable, OutcomeOf(domain.ErrVectorStoreUnavailable))
	assert.Equal(t, OutcomeExpired, OutcomeOf(domain.ErrSessionRetired))
	assert.Equal(t, OutcomeError, OutcomeOf(errors.New("boom")))
}
