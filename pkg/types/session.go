// Package types provides the core data types shared across the consulting session core.
package types

// Session is the durable per-client session identity.
// It is created on the first visit and never mutated afterwards.
type Session struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// ConsentStatus is the client-visible state of the consent gate.
type ConsentStatus string

const (
	ConsentUnknown ConsentStatus = "unknown"
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
)

// ConsentRecord is the consent service's view of a session.
type ConsentRecord struct {
	SessionID     string `json:"sessionId"`
	Allowed       bool   `json:"allow"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	CompanyDomain string `json:"companyDomain,omitempty"`
	PolicyVersion string `json:"policyVersion,omitempty"`
}

// ConsentInput is what the user submits through the consent form.
type ConsentInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	CompanyURL string `json:"companyUrl"`
}

// Capabilities are opaque UI feature flags switched on by research results.
type Capabilities struct {
	SourceCitation bool `json:"sourceCitation"`
	WebPreview     bool `json:"webPreview"`
}

// SessionSnapshot is the aggregate read model served to clients.
type SessionSnapshot struct {
	Session      Session          `json:"session"`
	Consent      ConsentStatus    `json:"consent"`
	Capabilities Capabilities     `json:"capabilities"`
	Widgets      []WidgetSnapshot `json:"widgets"`
	Docked       []WidgetSnapshot `json:"docked"`
}
