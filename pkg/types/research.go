package types

// LeadResearchRequest is sent to the lead research collaborator once
// consent is granted.
type LeadResearchRequest struct {
	SessionID  string `json:"sessionId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	CompanyURL string `json:"companyUrl,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// LeadResearchResult is what the lead research collaborator knows about
// the prospect.
type LeadResearchResult struct {
	Company   *CompanyInfo `json:"company,omitempty"`
	Person    *PersonInfo  `json:"person,omitempty"`
	Citations []Citation   `json:"citations,omitempty"`
}

// CompanyInfo describes the prospect's company.
type CompanyInfo struct {
	Name     string `json:"name,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Industry string `json:"industry,omitempty"`
	Size     string `json:"size,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Website  string `json:"website,omitempty"`
}

// PersonInfo describes the prospect.
type PersonInfo struct {
	FullName   string `json:"fullName,omitempty"`
	Role       string `json:"role,omitempty"`
	Seniority  string `json:"seniority,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
	Company    string `json:"company,omitempty"`
}

// ResearchResult is returned by the search and URL analysis collaborators.
type ResearchResult struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// ContextSnapshot is the cached "what we know about you" view.
type ContextSnapshot struct {
	Person  *PersonInfo  `json:"person,omitempty"`
	Company *CompanyInfo `json:"company,omitempty"`
	Role    string       `json:"role,omitempty"`
}

// Empty reports whether the snapshot carries nothing worth showing.
func (s *ContextSnapshot) Empty() bool {
	return s == nil || (s.Person == nil && s.Company == nil && s.Role == "")
}

// ResearchRoute records which auto-trigger branch handled a text.
type ResearchRoute string

const (
	RouteSkipped   ResearchRoute = "skipped"   // consent not granted
	RouteDuplicate ResearchRoute = "duplicate" // fired within the TTL
	RouteNone      ResearchRoute = "none"      // nothing to research
	RouteSnapshot  ResearchRoute = "snapshot"
	RouteURL       ResearchRoute = "url"
	RouteSearch    ResearchRoute = "search"
)

// TextInput is user-submitted or AI-surfaced text fed to auto research.
type TextInput struct {
	Text      string `json:"text"`
	Selection string `json:"selection,omitempty"`
	Source    string `json:"source,omitempty"` // "user" | "assistant"
}
