package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/session"
)

type sessionResponse struct {
	ID         string          `json:"id"`
	State      session.State   `json:"state"`
	CreatedAt  string          `json:"created_at"`
	Transcript []session.Entry `json:"transcript"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	transcript := sess.Transcript()
	if transcript == nil {
		transcript = []session.Entry{}
	}
	return sessionResponse{
		ID:         sess.ID(),
		State:      sess.State(),
		CreatedAt:  sess.CreatedAt().Format(time.RFC3339Nano),
		Transcript: transcript,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, toSessionResponse(sess), http.StatusCreated)
}

// lookupSession writes a 404 and returns nil when the id is unknown.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return nil
	}
	return sess
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	writeJSONStatus(w, toSessionResponse(sess), http.StatusOK)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitMessageRequest struct {
	Content string `json:"content"`
}

type submitMessageResponse struct {
	Entry      *session.Entry  `json:"entry,omitempty"`
	Error      string          `json:"error,omitempty"`
	Transcript []session.Entry `json:"transcript"`
}

func submitStatus(err error) int {
	var invocationErr *session.AgentInvocationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &invocationErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	entry, err := sess.Submit(r.Context(), req.Content)
	response := submitMessageResponse{Transcript: sess.Transcript()}
	if response.Transcript == nil {
		response.Transcript = []session.Entry{}
	}
	if err != nil {
		response.Error = err.Error()
	} else {
		response.Entry = &entry
	}
	writeJSONStatus(w, response, submitStatus(err))
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	sess.Reset()
	writeJSONStatus(w, toSessionResponse(sess), http.StatusOK)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, sess.ID())
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.SessionEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.SessionID, event.Seq)
	fmt.Fprint(w, "event: session_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
