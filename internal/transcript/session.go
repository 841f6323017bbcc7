// Package transcript turns the classified event stream of a remote agent run into an append-only list
// of chat messages, and notifies an observer after every change.
package transcript

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/google/uuid"
)

// Source is the remote agent a Session talks to. CreateThread issues a new thread handle; Stream runs
// the agent on a thread with the given input and yields the raw units of the run. A stream is finite
// and not restartable; a non-nil error ends it.
type Source interface {
	CreateThread(ctx context.Context) (string, error)
	Stream(ctx context.Context, threadID, input string) iter.Seq2[events.Unit, error]
}

// Snapshot is a copy of the session state handed to observers.
type Snapshot struct {
	Messages []models.Message
	InFlight bool
}

// Observer receives a snapshot after every mutation, in mutation order. It's called with the session
// lock held and must not call back into the Session.
type Observer func(Snapshot)

// FinalPolicy decides what a final output does to an assistant message that already has content.
type FinalPolicy int

const (
	// FinalIgnoreAfterDelta drops a final output once the message has any content.
	FinalIgnoreAfterDelta FinalPolicy = iota
	// FinalReplace overwrites the message content with the final output.
	FinalReplace
)

// Messages recorded by the session itself.
const (
	ReadyMessage      = "AI Assistant is ready to help you."
	ThreadFailMessage = "Failed to create conversation thread. Please try again."
)

// Session owns the transcript of one chat, its thread handle, the input buffer and the in-flight flag.
// At most one submission is in flight at a time; a second Submit while one is active is rejected.
type Session struct {
	source      Source
	classifier  events.Classifier
	observer    Observer
	finalPolicy FinalPolicy
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	messages []models.Message
	input    string
	threadID string
	active   *submission
}

type submission struct {
	threadID    string
	assistantID string
	cancel      context.CancelFunc
	// touched is set once the assistant message received any content.
	touched bool
	done    chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithObserver sets the observer notified after every mutation.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithFinalPolicy sets the policy for final outputs that arrive after streamed tokens.
func WithFinalPolicy(p FinalPolicy) Option {
	return func(s *Session) { s.finalPolicy = p }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a session bound to source. The session has no thread until Init succeeds, and
// must be released with Close.
func NewSession(source Source, classifier events.Classifier, opts ...Option) *Session {
	s := &Session{
		source:     source,
		classifier: classifier,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("module", "transcript"))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Init requests a new thread handle from the source. On success the handle replaces the current one and
// an info message is appended; on failure an error message is appended and the session is left without
// a handle, so Submit no-ops until a later Init succeeds. Any in-flight submission is invalidated first:
// its stream is torn down and whatever it still yields is dropped.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	s.threadID = ""
	if s.active != nil {
		s.logger.Debug("Invalidating in-flight submission", slog.String("threadID", s.active.threadID))
		s.finish(s.active)
		s.notify()
	}
	s.mu.Unlock()

	threadID, err := s.source.CreateThread(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to create thread", slog.String("err", err.Error()))
		s.appendMessage(models.RoleError, ThreadFailMessage)
		s.notify()
		return err
	}

	s.logger.Info("Thread created", slog.String("threadID", threadID))
	s.threadID = threadID
	s.appendMessage(models.RoleInfo, ReadyMessage)
	s.notify()
	return nil
}

// Submit sends text to the agent on the current thread. It appends the user message and an empty
// assistant message, then consumes the run in the background. Blank text, a submission already in
// flight or a missing thread make it a silent no-op; it reports whether the submission started.
func (s *Session) Submit(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" || s.active != nil || s.threadID == "" {
		return false
	}
	if s.ctx.Err() != nil {
		return false
	}

	s.appendMessage(models.RoleUser, text)
	s.input = ""

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &submission{
		threadID: s.threadID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	sub.assistantID = s.appendMessage(models.RoleAssistant, "")
	s.active = sub
	s.notify()

	s.wg.Add(1)
	go s.consume(ctx, sub, text)

	return true
}

// Input returns the input buffer.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// SetInput replaces the input buffer.
func (s *Session) SetInput(input string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = input
}

// SubmitInput submits the current input buffer.
func (s *Session) SubmitInput() bool {
	return s.Submit(s.Input())
}

// Snapshot returns a copy of the transcript and the in-flight flag.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// InFlight reports whether a submission is being streamed.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// ThreadID returns the current thread handle, empty if none is set.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Wait blocks until no submission is in flight.
func (s *Session) Wait() {
	s.mu.Lock()
	sub := s.active
	s.mu.Unlock()
	if sub != nil {
		<-sub.done
	}
}

// Close ends the session. The in-flight stream, if any, is cancelled and Close waits for its teardown.
// Submit no-ops afterwards.
func (s *Session) Close() {
	// Submit adds to wg under mu only while ctx is live, so no Add can follow this cancel.
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) consume(ctx context.Context, sub *submission, input string) {
	defer s.wg.Done()
	defer sub.cancel()

	for unit, err := range s.source.Stream(ctx, sub.threadID, input) {
		if err != nil {
			s.fail(sub, err)
			return
		}
		s.apply(sub, s.classifier.Classify(unit))
	}

	s.complete(sub)
}

func (s *Session) apply(sub *submission, ev events.Event) {
	if ev.Kind == events.KindIgnore {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != sub {
		return
	}
	idx := s.indexOf(sub.assistantID)
	if idx == -1 {
		return
	}

	switch ev.Kind {
	case events.KindDelta:
		s.messages[idx].Content += ev.Text
		sub.touched = true
	case events.KindFinal:
		if sub.touched && s.finalPolicy == FinalIgnoreAfterDelta {
			s.logger.Debug("Ignoring final output after streamed content",
				slog.String("messageID", sub.assistantID))
			return
		}
		s.messages[idx].Content = ev.Text
		sub.touched = true
	}
	s.notify()
}

func (s *Session) complete(sub *submission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != sub {
		return
	}
	s.finish(sub)
	s.notify()
}

func (s *Session) fail(sub *submission, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != sub {
		return
	}
	if s.ctx.Err() != nil {
		// The session was closed; the cancellation is ours, not the transport's.
		s.finish(sub)
		s.notify()
		return
	}
	s.logger.Error("Stream failed",
		slog.String("threadID", sub.threadID),
		slog.String("err", err.Error()))
	s.appendMessage(models.RoleError, err.Error())
	s.finish(sub)
	s.notify()
}

// finish seals sub: the in-flight flag is cleared and its stream context cancelled. Callers hold mu.
func (s *Session) finish(sub *submission) {
	sub.cancel()
	close(sub.done)
	s.active = nil
}

func (s *Session) appendMessage(role models.Role, content string) string {
	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

func (s *Session) indexOf(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Messages: slices.Clone(s.messages),
		InFlight: s.active != nil,
	}
}

func (s *Session) notify() {
	if s.observer == nil {
		return
	}
	s.observer(s.snapshot())
}
