package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	langgraphchat "github.com/RutamBhagat/langgraph-sdk-streaming-example"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/transcript"
	"github.com/tmaxmax/go-sse"
)

// Main handles the core functionality of the chat application: it owns the chat sessions, renders the
// HTML templates and pushes every transcript change to the browser over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	source      transcript.Source
	classifier  events.Classifier
	finalPolicy transcript.FinalPolicy

	sessions  *sessions
	stopSweep context.CancelFunc

	logger *slog.Logger
}

// Options tune the sessions created by Main.
type Options struct {
	// FinalPolicy is passed to every session.
	FinalPolicy transcript.FinalPolicy
	// SessionTTL is how long an idle session is kept. Zero keeps sessions until shutdown.
	SessionTTL time.Duration
}

const maxSweepInterval = time.Minute

const (
	errLoggerKey = "err"

	sessionIDParam = "session_id"
)

var (
	transcriptSSEType = sse.Type("transcript")
	closeChatSSEType  = sse.Type("closeChat")
)

// NewMain creates a new Main instance talking to source. It parses the HTML templates from the
// embedded filesystem and configures the SSE server so that every client subscribes to the topic of
// its own session.
func NewMain(source transcript.Source, classifier events.Classifier, opts Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		langgraphchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	sseSrv := &sse.Server{}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	m := Main{
		sseSrv:      sseSrv,
		templates:   tmpl,
		source:      source,
		classifier:  classifier,
		finalPolicy: opts.FinalPolicy,
		sessions:    newSessions(opts.SessionTTL),
		stopSweep:   stopSweep,
		logger:      logger.With(slog.String("module", "handlers")),
	}
	sseSrv.OnSession = m.subscribe

	if opts.SessionTTL > 0 {
		go m.sweepLoop(sweepCtx, max(min(opts.SessionTTL/2, maxSweepInterval), time.Millisecond))
	}

	return m, nil
}

// subscribe puts every client on the topic of its own session, and first sends it the current
// transcript so that a reconnecting browser is not left with a stale one.
func (m Main) subscribe(s *sse.Session) (sse.Subscription, bool) {
	topics := []string{sse.DefaultTopic}

	if sessionID := s.Req.URL.Query().Get(sessionIDParam); sessionID != "" {
		topics = append(topics, sessionTopic(sessionID))

		if sess, ok := m.sessions.get(sessionID); ok {
			msg, err := m.transcriptMessage(sessionID, sess.Snapshot())
			if err == nil {
				err = s.Send(msg)
			}
			if err == nil {
				err = s.Flush()
			}
			if err != nil {
				m.logger.Error("Failed to send transcript",
					slog.String("sessionID", sessionID),
					slog.String(errLoggerKey, err.Error()))
				return sse.Subscription{}, false
			}
		}
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		Topics:      topics,
	}, true
}

func (m Main) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.sessions.sweep(now); n > 0 {
				m.logger.Debug("Expired sessions closed", slog.Int("count", n))
			}
		}
	}
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the event stream of the session named by the session_id query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(sessionIDParam)
	if _, ok := m.sessions.get(sessionID); !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown stops the session sweeper and closes every session, tearing down their in-flight streams, then gracefully terminates the
// SSE server. It broadcasts a close message to all connected clients and waits up to 5 seconds for
// connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.stopSweep()
	m.sessions.closeAll()

	e := &sse.Message{Type: closeChatSSEType}
	// SSE events must carry data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
