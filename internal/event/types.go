package event

import "github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"

// SessionData is the data for session.created and session.ended events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// ConsentData is the data for consent.updated and consent.granted events.
type ConsentData struct {
	SessionID string               `json:"sessionID"`
	Status    types.ConsentStatus  `json:"status"`
	Record    *types.ConsentRecord `json:"record,omitempty"`
}

// MessageData is the data for message.created and message.updated events.
type MessageData struct {
	Info *types.Message `json:"info"`
}

// WidgetData is the data for widget.updated events.
// Message carries the user-facing text when a widget fails.
type WidgetData struct {
	SessionID string               `json:"sessionID"`
	Widget    types.WidgetSnapshot `json:"widget"`
	Message   string               `json:"message,omitempty"`
}

// DeviceRequestData asks the client to prompt for a capture device.
type DeviceRequestData struct {
	SessionID  string           `json:"sessionID"`
	WidgetType types.WidgetType `json:"widgetType"`
	Fallback   bool             `json:"fallback"`
}

// AnalysisStaleData reports an analysis response dropped by the generation check.
type AnalysisStaleData struct {
	SessionID         string           `json:"sessionID"`
	WidgetType        types.WidgetType `json:"widgetType"`
	RequestID         string           `json:"requestID"`
	RequestGeneration uint64           `json:"requestGeneration"`
}

// ArtifactChunkData is the data for artifact.chunk events.
type ArtifactChunkData struct {
	SessionID string              `json:"sessionID"`
	StreamID  string              `json:"streamID"`
	Chunk     types.ArtifactChunk `json:"chunk"`
}
