package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/llm"
	"docrag/internal/session"
)

// State is a step of the responder state machine.
type State string

const (
	StateIdle           State = "idle"
	StateEmbeddingQuery State = "embedding_query"
	StateRetrieving     State = "retrieving"
	StateGenerating     State = "generating"
	StateStreaming      State = "streaming"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Reason says why an answer was or was not augmented.
type Reason string

const (
	// ReasonRetrieved marks an augmented answer.
	ReasonRetrieved Reason = "retrieved"
	// ReasonDisabled means the caller asked for plain generation.
	ReasonDisabled Reason = "disabled"
	// ReasonNoSources means augmentation was asked for but nothing is loaded.
	ReasonNoSources Reason = "no_sources"
	// ReasonNoMatches means retrieval ran and found nothing.
	ReasonNoMatches Reason = "no_matches"
	// ReasonStoreUnavailable means retrieval failed and was skipped.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Answer is the result of Ask. Its text arrives through Next; it is not
// safe for concurrent use.
type Answer struct {
	// Augmented is true when retrieved reference material was in the prompt.
	Augmented bool
	Reason    Reason
	// Context holds the retrieved chunks in query order.
	Context []domain.SearchResult
	Model   string

	question    string
	sess        *session.Session
	stream      llm.Stream
	state       State
	transitions []State
	text        strings.Builder
	err         error
	closed      bool
	onDone      func(*Answer)
	onFail      func(from State, err error)
}

func newAnswer(sess *session.Session, question string) *Answer {
	return &Answer{sess: sess, question: question, state: StateIdle, transitions: []State{StateIdle}}
}

func (a *Answer) State() State { return a.state }

// Transitions lists every state the answer has been in, starting with idle.
func (a *Answer) Transitions() []State { return slices.Clone(a.transitions) }

// Text returns the fragments received so far.
func (a *Answer) Text() string { return a.text.String() }

// Err returns the failure that moved the answer to StateFailed.
func (a *Answer) Err() error { return a.err }

// Sources lists the distinct origins of Context in retrieval order.
func (a *Answer) Sources() []string {
	var out []string
	for _, r := range a.Context {
		if !slices.Contains(out, r.Chunk.Origin) {
			out = append(out, r.Chunk.Origin)
		}
	}
	return out
}

func (a *Answer) to(s State) {
	a.state = s
	a.transitions = append(a.transitions, s)
}

func (a *Answer) fail(err error) error {
	from := a.state
	a.err = err
	a.to(StateFailed)
	if a.onFail != nil {
		a.onFail(from, err)
	}
	return err
}

// Next returns the next fragment. done is true once the answer is complete,
// failed or closed; err is set only on failure. The question and answer are
// added to the session history when the stream completes.
func (a *Answer) Next() (fragment string, done bool, err error) {
	switch {
	case a.state == StateDone, a.closed:
		return "", true, nil
	case a.state == StateFailed:
		return "", true, a.err
	}
	delta, done, err := a.stream.Recv()
	if a.state == StateGenerating {
		a.to(StateStreaming)
	}
	if err != nil {
		_ = a.stream.Close()
		if !errors.Is(err, domain.ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
		}
		return "", true, a.fail(err)
	}
	if done {
		_ = a.stream.Close()
		a.to(StateDone)
		a.sess.AppendExchange(a.question, a.text.String())
		if a.onDone != nil {
			a.onDone(a)
		}
		return "", true, nil
	}
	a.text.WriteString(delta)
	return delta, false, nil
}

// Collect drains the answer and returns its full text.
func (a *Answer) Collect() (string, error) {
	for {
		_, done, err := a.Next()
		if err != nil {
			return a.Text(), err
		}
		if done {
			return a.Text(), nil
		}
	}
}

// Close abandons the answer. A closed answer that has not reached
// StateDone leaves the session untouched.
func (a *Answer) Close() error {
	if a.closed || a.state.Terminal() {
		a.closed = true
		return nil
	}
	a.closed = true
	if a.stream != nil {
		return a.stream.Close()
	}
	return nil
}
