package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/device"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// maxFrameSize bounds one uploaded frame.
const maxFrameSize = 8 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 4 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// WidgetsResponse lists the non-closed widgets and the dock.
type WidgetsResponse struct {
	Widgets []types.WidgetSnapshot `json:"widgets"`
	Docked  []types.WidgetSnapshot `json:"docked"`
}

// AnalyzeResponse names the analysis message of a manual analysis.
type AnalyzeResponse struct {
	MessageID string `json:"messageID"`
}

// DeviceGrantRequest answers a device prompt with the frame size.
type DeviceGrantRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceFailureRequest denies a device prompt or reports a device stop.
type DeviceFailureRequest struct {
	Reason  widget.Reason `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
}

// widgetType reads the widget type from the URL, writing a 400 when it is
// not one of the known tools.
func widgetType(w http.ResponseWriter, r *http.Request) (types.WidgetType, bool) {
	t := types.WidgetType(chi.URLParam(r, "widgetType"))
	if !t.Valid() {
		writeServiceError(w, widget.ErrUnknownType)
		return "", false
	}
	return t, true
}

// widgetTarget resolves both the session runtime and the widget type.
func (s *Server) widgetTarget(w http.ResponseWriter, r *http.Request) (*session.Runtime, types.WidgetType, bool) {
	t, ok := widgetType(w, r)
	if !ok {
		return nil, "", false
	}
	rt, ok := s.runtime(w, r)
	if !ok {
		return nil, "", false
	}
	return rt, t, true
}

func writeWidget(w http.ResponseWriter, snap types.WidgetSnapshot, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// listWidgets handles GET /session/{sessionID}/widget.
func (s *Server) listWidgets(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	resp := WidgetsResponse{Widgets: rt.Widgets().Open(), Docked: rt.Widgets().Docked()}
	if resp.Widgets == nil {
		resp.Widgets = []types.WidgetSnapshot{}
	}
	if resp.Docked == nil {
		resp.Docked = []types.WidgetSnapshot{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// openWidget starts acquisition; the widget stays Connecting until the
// client answers the device prompt.
func (s *Server) openWidget(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	snap, err := rt.OpenWidget(r.Context(), t)
	writeWidget(w, snap, err)
}

func (s *Server) closeWidget(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	snap, err := rt.CloseWidget(t)
	writeWidget(w, snap, err)
}

func (s *Server) minimizeWidget(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	snap, err := rt.MinimizeWidget(t)
	writeWidget(w, snap, err)
}

func (s *Server) expandWidget(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	snap, err := rt.ExpandWidget(t)
	writeWidget(w, snap, err)
}

// analyzeWidget runs a manual high-quality analysis.
func (s *Server) analyzeWidget(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	id, err := rt.Analyze(r.Context(), t)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{MessageID: id})
}

// grantDevice handles the client's answer that the device is live.
func (s *Server) grantDevice(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	var req DeviceGrantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := rt.Device().Grant(t, req.Width, req.Height); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// denyDevice handles a refused or failed device prompt.
func (s *Server) denyDevice(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	var req DeviceFailureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := rt.Device().Deny(t, req.Reason, req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// endDevice handles the client reporting that the device stopped.
func (s *Server) endDevice(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	var req DeviceFailureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := rt.Device().End(t, req.Reason, req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// pushFrame accepts one JPEG or PNG frame as the request body.
func (s *Server) pushFrame(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err := rt.Device().Frame(t, data); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// frameStream upgrades to a websocket and treats every binary message as a
// frame. The socket closes when the device is no longer active; an abrupt
// client disconnect ends the device with a device error.
func (s *Server) frameStream(w http.ResponseWriter, r *http.Request) {
	rt, t, ok := s.widgetTarget(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	log := logging.ForSession(rt.Session().ID, "frames")
	push := rt.Device()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("widget", string(t)).Msg("frame stream dropped")
				if endErr := push.End(t, widget.ReasonDeviceError, "frame stream dropped"); endErr != nil && !errors.Is(endErr, device.ErrNotActive) {
					log.Debug().Err(endErr).Msg("failed to end device")
				}
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		err = push.Frame(t, data)
		switch {
		case err == nil:
		case errors.Is(err, device.ErrInvalidFrame):
			_ = conn.WriteJSON(ErrorResponse{Error: ErrorDetail{Code: ErrCodeInvalidRequest, Message: err.Error()}})
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}
