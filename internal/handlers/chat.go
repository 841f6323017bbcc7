package handlers

import (
	"log/slog"
	"net/http"
)

// HandleChats submits a question to the session's agent. It expects the "session_id" and "message"
// form fields. The answer is not part of the response: it reaches the browser token by token through
// the session's event stream. A blank message, or a message sent while an answer is still streaming or
// before the session has a thread, is ignored and answered with 204, leaving the text in the session's
// input buffer; an accepted message is answered with 202.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue(sessionIDParam)
	sess, ok := m.sessions.get(sessionID)
	if !ok {
		m.logger.Error("Session not found", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	sess.SetInput(r.FormValue("message"))
	if !sess.SubmitInput() {
		m.logger.Debug("Submission ignored",
			slog.String("sessionID", sessionID),
			slog.Bool("inFlight", sess.InFlight()))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleThreads replaces the session's thread with a new one. An answer still streaming on the old
// thread is abandoned; the transcript itself is kept.
func (m Main) HandleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue(sessionIDParam)
	sess, ok := m.sessions.get(sessionID)
	if !ok {
		m.logger.Error("Session not found", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if err := sess.Init(r.Context()); err != nil {
		m.logger.Warn("Failed to replace thread",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	w.WriteHeader(http.StatusNoContent)
}
