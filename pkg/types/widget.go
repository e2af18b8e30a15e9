package types

// WidgetType names a capture tool. At most one widget of each type is live.
type WidgetType string

const (
	WidgetVoice  WidgetType = "voice"
	WidgetWebcam WidgetType = "webcam"
	WidgetScreen WidgetType = "screen"
)

// WidgetTypes lists every supported tool type.
var WidgetTypes = []WidgetType{WidgetVoice, WidgetWebcam, WidgetScreen}

// Valid reports whether t is a known widget type.
func (t WidgetType) Valid() bool {
	switch t {
	case WidgetVoice, WidgetWebcam, WidgetScreen:
		return true
	}
	return false
}

// WidgetState is a node of the widget lifecycle machine.
type WidgetState string

const (
	WidgetClosed     WidgetState = "closed"
	WidgetConnecting WidgetState = "connecting"
	WidgetActive     WidgetState = "active"
	WidgetMinimized  WidgetState = "minimized"
	WidgetError      WidgetState = "error"
)

// WidgetSnapshot is a point-in-time copy of a widget's state.
type WidgetSnapshot struct {
	Type       WidgetType  `json:"type"`
	State      WidgetState `json:"state"`
	Generation uint64      `json:"generation"`
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// AnalysisTrigger says what caused a frame analysis.
type AnalysisTrigger string

const (
	TriggerAuto   AnalysisTrigger = "auto"
	TriggerManual AnalysisTrigger = "manual"
)

// AnalysisPriority is forwarded to the analysis collaborator.
type AnalysisPriority string

const (
	PriorityNormal AnalysisPriority = "normal"
	PriorityHigh   AnalysisPriority = "high"
)

// AnalysisRequest is one capture-and-analyze unit of work.
type AnalysisRequest struct {
	ID         string           `json:"id"`
	WidgetType WidgetType       `json:"widgetType"`
	Trigger    AnalysisTrigger  `json:"trigger"`
	Priority   AnalysisPriority `json:"priority"`
	CapturedAt int64            `json:"capturedAt"` // unix millis
	Generation uint64           `json:"generation"`
	Quality    string           `json:"quality"`
	Image      []byte           `json:"-"`
	MediaType  string           `json:"mediaType"`
	Prompt     string           `json:"prompt"`
}

// FrameAnalysis is the frame analysis collaborator's answer.
type FrameAnalysis struct {
	Analysis string `json:"analysis"`
}

// AnalysisContextEntry is one item of the rolling analysis context.
type AnalysisContextEntry struct {
	WidgetType WidgetType      `json:"widgetType"`
	Trigger    AnalysisTrigger `json:"trigger"`
	At         int64           `json:"at"`
	Analysis   string          `json:"analysis"`
}
