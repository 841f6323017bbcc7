package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/transcript"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time

	Streaming bool
}

type transcriptData struct {
	SessionID string
	Messages  []message
	InFlight  bool
}

type homePageData struct {
	SessionID  string
	Input      string
	Transcript transcriptData
}

// HandleHome starts a new chat session and renders the chat page. The session asks the remote agent
// for a thread before the page is rendered, so the page already shows whether the agent is ready.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if n := m.sessions.sweep(time.Now()); n > 0 {
		m.logger.Debug("Expired sessions closed", slog.Int("count", n))
	}

	sessionID := uuid.New().String()
	sess := transcript.NewSession(m.source, m.classifier,
		transcript.WithFinalPolicy(m.finalPolicy),
		transcript.WithLogger(m.logger.With(slog.String("sessionID", sessionID))),
		transcript.WithObserver(func(snap transcript.Snapshot) {
			m.publishTranscript(sessionID, snap)
		}),
	)
	m.sessions.add(sessionID, sess)

	if err := sess.Init(r.Context()); err != nil {
		m.logger.Warn("Session started without thread",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	data := homePageData{
		SessionID:  sessionID,
		Input:      sess.Input(),
		Transcript: newTranscriptData(sessionID, sess.Snapshot()),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func newTranscriptData(sessionID string, snap transcript.Snapshot) transcriptData {
	msgs := make([]message, len(snap.Messages))
	for i, msg := range snap.Messages {
		msgs[i] = message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
	}
	// Only the newest assistant message can be receiving tokens.
	if snap.InFlight {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == string(models.RoleAssistant) {
				msgs[i].Streaming = true
				break
			}
		}
	}

	return transcriptData{
		SessionID: sessionID,
		Messages:  msgs,
		InFlight:  snap.InFlight,
	}
}

func (m Main) transcriptMessage(sessionID string, snap transcript.Snapshot) (*sse.Message, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "transcript_event", newTranscriptData(sessionID, snap)); err != nil {
		return nil, fmt.Errorf("error rendering transcript: %w", err)
	}

	msg := &sse.Message{
		Type: transcriptSSEType,
	}
	msg.AppendData(sb.String())
	return msg, nil
}

func (m Main) publishTranscript(sessionID string, snap transcript.Snapshot) {
	msg, err := m.transcriptMessage(sessionID, snap)
	if err != nil {
		m.logger.Error("Failed to render transcript",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.sseSrv.Publish(msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish transcript",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}
