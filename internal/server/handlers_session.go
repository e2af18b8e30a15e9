package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/consent"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/remote"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// CreateSessionRequest is the optional body of POST /session.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// ConsentResponse reports the consent gate state.
type ConsentResponse struct {
	Status types.ConsentStatus `json:"status"`
	// Error is set when the consent service could not be reached; the
	// status is then the last known one.
	Error string `json:"error,omitempty"`
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// runtime resolves the live session named in the URL, writing a 404 when
// it is not open.
func (s *Server) runtime(w http.ResponseWriter, r *http.Request) (*session.Runtime, bool) {
	rt, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return rt, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": len(s.sessions.Sessions())})
}

// listSessions handles GET /session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

// createSession handles POST /session. A known id reopens that session,
// anything else starts a new one.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = r.Header.Get(remote.SessionHeader)
	}

	rt, created, err := s.sessions.Open(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set(remote.SessionHeader, rt.Session().ID)
	writeJSON(w, status, rt.Snapshot(r.Context()))
}

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rt.Snapshot(r.Context()))
}

// endSession handles POST /session/{sessionID}/end.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// getConsent handles GET /session/{sessionID}/consent. It polls the
// consent service; an unreachable service reports the last known status.
func (s *Server) getConsent(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	status, err := rt.RefreshConsent(r.Context())
	resp := ConsentResponse{Status: status}
	if err != nil {
		if !errors.Is(err, consent.ErrUnavailable) {
			writeServiceError(w, err)
			return
		}
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitConsent handles POST /session/{sessionID}/consent.
func (s *Server) submitConsent(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	var in types.ConsentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(in.Email) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "email is required")
		return
	}

	status, err := rt.SubmitConsent(r.Context(), in)
	if err != nil {
		code, errCode := errorStatus(err)
		writeErrorWithDetails(w, code, errCode, err.Error(), map[string]any{"status": status})
		return
	}
	writeJSON(w, http.StatusOK, ConsentResponse{Status: status})
}

// postText handles POST /session/{sessionID}/text, the auto-research path.
func (s *Server) postText(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	var in types.TextInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.Selection) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	trigger, err := rt.HandleText(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, trigger)
}

// getMessages handles GET /session/{sessionID}/message.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	msgs, err := rt.Messages(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
