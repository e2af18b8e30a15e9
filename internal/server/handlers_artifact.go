package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
)

// ArtifactRequest is the body of POST /session/{sessionID}/artifact/{kind}.
type ArtifactRequest struct {
	Input string `json:"input"`
}

// StreamIDHeader carries the artifact stream id, which also tags the
// artifact.chunk events on /event.
const StreamIDHeader = "X-Stream-Id"

// streamArtifact generates an artifact and streams every chunk as an SSE
// event. The stream ends after the complete or faulted chunk; a client
// disconnect cancels generation.
func (s *Server) streamArtifact(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	var req ArtifactRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	streamID, sr, err := rt.Artifact(r.Context(), chi.URLParam(r, "kind"), req.Input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sr.Close()

	w.Header().Set(StreamIDHeader, streamID)
	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logging.Warn().Err(err).Str("streamID", streamID).Msg("artifact stream failed")
			return
		}
		if err := sse.writeEvent(string(event.ArtifactChunk), chunk); err != nil {
			return
		}
	}
}
