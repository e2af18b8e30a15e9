package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/consent"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/device"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/remote"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeConsentRequired = "CONSENT_REQUIRED"
	ErrCodeDeviceError     = "DEVICE_ERROR"
	ErrCodeUpstreamError   = "UPSTREAM_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var statusErr *remote.StatusError
	var deviceErr *widget.DeviceError
	switch {
	case errors.Is(err, session.ErrNotOpen), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, widget.ErrUnknownType), errors.Is(err, artifact.ErrUnknownKind),
		errors.Is(err, session.ErrNotAnalyzable), errors.Is(err, device.ErrInvalidFrame):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, capture.ErrAnalysisInFlight), errors.Is(err, capture.ErrWidgetNotActive),
		errors.Is(err, capture.ErrNoFrame), errors.Is(err, capture.ErrStale),
		errors.Is(err, device.ErrNoPendingRequest), errors.Is(err, device.ErrNotActive):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, consent.ErrRejected):
		return http.StatusForbidden, ErrCodeConsentRequired
	case errors.As(err, &deviceErr):
		return http.StatusConflict, ErrCodeDeviceError
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, remote.ErrNotConfigured):
		return http.StatusServiceUnavailable, ErrCodeUpstreamError
	case errors.Is(err, consent.ErrUnavailable), errors.As(err, &statusErr):
		return http.StatusBadGateway, ErrCodeUpstreamError
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// writeServiceError writes err with the status its kind maps to.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}
