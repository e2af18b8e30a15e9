package types

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageKind distinguishes how the UI renders a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindInsight  MessageKind = "insight"
	KindResearch MessageKind = "research"
	KindAnalysis MessageKind = "analysis"
	KindArtifact MessageKind = "artifact"
)

// MessageStatus tracks placeholder messages that are patched in place.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusFailed   MessageStatus = "failed"
)

// Message is a single transcript entry.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Role      Role           `json:"role"`
	Kind      MessageKind    `json:"kind"`
	Status    MessageStatus  `json:"status"`
	Text      string         `json:"text"`
	Citations []Citation     `json:"citations,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Time      MessageTime    `json:"time"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// Citation is a source reference attached to research output.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// MessagePatch carries the fields replaced when a placeholder completes.
// Nil fields are left untouched.
type MessagePatch struct {
	Kind      *MessageKind   `json:"kind,omitempty"`
	Status    *MessageStatus `json:"status,omitempty"`
	Text      *string        `json:"text,omitempty"`
	Citations []Citation     `json:"citations,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
