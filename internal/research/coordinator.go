// Package research runs background research for a session: one lead
// lookup when consent is first granted, and deduplicated auto research
// driven by conversation text.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/dedup"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/transcript"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// LeadResearcher looks up the prospect behind a consent record.
type LeadResearcher interface {
	LeadResearch(ctx context.Context, req types.LeadResearchRequest) (*types.LeadResearchResult, error)
}

// Searcher answers free-text search queries.
type Searcher interface {
	Search(ctx context.Context, query string) (*types.ResearchResult, error)
}

// URLAnalyzer summarizes pages in the context of a query.
type URLAnalyzer interface {
	AnalyzeURLs(ctx context.Context, urls []string, query string) (*types.ResearchResult, error)
}

// SnapshotReader fetches the context snapshot for a session.
type SnapshotReader interface {
	Snapshot(ctx context.Context, sessionID string) (*types.ContextSnapshot, error)
}

// ConsentState is the part of the consent gate research depends on.
type ConsentState interface {
	Granted() bool
}

// Collaborators groups the external services. Any of them may be nil, in
// which case the matching branch is a no-op.
type Collaborators struct {
	Lead     LeadResearcher
	Search   Searcher
	URLs     URLAnalyzer
	Snapshot SnapshotReader
}

// Options tunes the coordinator.
type Options struct {
	TriggerTTL      time.Duration
	PlaceholderText string
	DefaultName     string
	MaxCitations    int
	LeadProvider    string
}

// Trigger reports how a text was routed.
type Trigger struct {
	Route     types.ResearchRoute `json:"route"`
	MessageID string              `json:"messageID,omitempty"`
	URLs      []string            `json:"urls,omitempty"`
}

// Coordinator is the per-session research coordinator.
type Coordinator struct {
	sessionID string
	consent   ConsentState
	dedup     *dedup.Deduplicator
	writer    transcript.Writer
	kv        storage.KV
	collab    Collaborators
	opts      Options
	log       zerolog.Logger

	leadMu   sync.Mutex
	snapshot singleflight.Group
	wg       sync.WaitGroup
}

// New creates a coordinator for one session. kv is the session scope.
func New(sessionID string, consent ConsentState, d *dedup.Deduplicator, writer transcript.Writer, kv storage.KV, collab Collaborators, opts Options) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		consent:   consent,
		dedup:     d,
		writer:    writer,
		kv:        kv,
		collab:    collab,
		opts:      opts,
		log:       logging.ForSession(sessionID, "research"),
	}
}

func (c *Coordinator) key(parts ...string) []string {
	return append([]string{"research", c.sessionID}, parts...)
}

// OnConsentGranted is the consent-edge path. It is safe to call more than
// once: a flag in the session scope limits it to one lead research call.
func (c *Coordinator) OnConsentGranted(ctx context.Context, record types.ConsentRecord) {
	email := strings.TrimSpace(record.Email)
	domain := companyDomain(record.CompanyDomain, email)
	if email == "" && domain != "" {
		email = "lead@" + domain
	}
	if email == "" {
		c.log.Debug().Msg("no usable email, skipping lead research")
		return
	}
	name := strings.TrimSpace(record.Name)
	if name == "" {
		name = c.opts.DefaultName
	}
	if c.collab.Lead == nil {
		return
	}

	if !c.claimLeadRun(ctx) {
		c.log.Debug().Msg("lead research already ran for session")
		return
	}

	req := types.LeadResearchRequest{
		SessionID: c.sessionID,
		Email:     email,
		Name:      name,
		Provider:  c.opts.LeadProvider,
	}
	if domain != "" {
		req.CompanyURL = "https://" + domain
	}

	res, err := c.collab.Lead.LeadResearch(ctx, req)
	if err != nil {
		c.log.Warn().Err(err).Msg("lead research failed")
		return
	}

	if err := c.kv.Put(ctx, c.key("capabilities"), types.Capabilities{SourceCitation: true, WebPreview: true}); err != nil {
		c.log.Warn().Err(err).Msg("failed to store capabilities")
	}
	snap := &types.ContextSnapshot{Person: res.Person, Company: res.Company}
	if res.Person != nil {
		snap.Role = res.Person.Role
	}
	if err := c.kv.Put(ctx, c.key("snapshot"), snap); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache context snapshot")
	}

	_, err = c.writer.Append(ctx, types.Message{
		Role:      types.RoleAssistant,
		Kind:      types.KindInsight,
		Text:      leadSummary(res, name),
		Citations: limit(res.Citations, c.opts.MaxCitations),
		Metadata:  map[string]any{"source": "lead-research"},
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to append lead insight")
	}
}

// claimLeadRun checks and sets the "already ran" flag in one step.
func (c *Coordinator) claimLeadRun(ctx context.Context) bool {
	c.leadMu.Lock()
	defer c.leadMu.Unlock()

	if c.kv.Exists(ctx, c.key("lead-ran")) {
		return false
	}
	if err := c.kv.Put(ctx, c.key("lead-ran"), time.Now().UnixMilli()); err != nil {
		c.log.Warn().Err(err).Msg("failed to store lead flag")
		return false
	}
	return true
}

// LeadRan reports whether the consent-edge path has run for this session.
func (c *Coordinator) LeadRan(ctx context.Context) bool {
	return c.kv.Exists(ctx, c.key("lead-ran"))
}

// Capabilities returns the flags enabled by lead research.
func (c *Coordinator) Capabilities(ctx context.Context) types.Capabilities {
	var caps types.Capabilities
	if err := c.kv.Get(ctx, c.key("capabilities"), &caps); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.Warn().Err(err).Msg("failed to read capabilities")
	}
	return caps
}

// HandleText is the auto-trigger path. It decides synchronously, appends
// any placeholder before returning, and finishes the external call in the
// background. Failures never reach the caller.
func (c *Coordinator) HandleText(ctx context.Context, in types.TextInput) Trigger {
	if !c.consent.Granted() {
		return Trigger{Route: types.RouteSkipped}
	}

	text := chooseText(in.Text, in.Selection)
	if text == "" {
		return Trigger{Route: types.RouteNone}
	}
	if !c.dedup.ShouldFire(dedup.NormalizeKey(text), c.opts.TriggerTTL) {
		return Trigger{Route: types.RouteDuplicate}
	}

	if IsAboutMe(text) {
		c.answerFromSnapshot(ctx)
		return Trigger{Route: types.RouteSnapshot}
	}

	if urls := ExtractURLs(text); len(urls) > 0 && c.collab.URLs != nil {
		id, ok := c.placeholder(ctx, types.RouteURL, urls)
		if !ok {
			return Trigger{Route: types.RouteNone}
		}
		c.background(ctx, id, types.RouteURL, func(ctx context.Context) (*types.ResearchResult, error) {
			return c.collab.URLs.AnalyzeURLs(ctx, urls, text)
		})
		return Trigger{Route: types.RouteURL, MessageID: id, URLs: urls}
	}

	if IsSearchIntent(text) && c.collab.Search != nil {
		id, ok := c.placeholder(ctx, types.RouteSearch, nil)
		if !ok {
			return Trigger{Route: types.RouteNone}
		}
		c.background(ctx, id, types.RouteSearch, func(ctx context.Context) (*types.ResearchResult, error) {
			return c.collab.Search.Search(ctx, text)
		})
		return Trigger{Route: types.RouteSearch, MessageID: id}
	}

	return Trigger{Route: types.RouteNone}
}

func (c *Coordinator) placeholder(ctx context.Context, route types.ResearchRoute, urls []string) (string, bool) {
	meta := map[string]any{"route": string(route)}
	if len(urls) > 0 {
		meta["urls"] = urls
	}
	id, err := c.writer.Append(ctx, types.Message{
		Role:     types.RoleAssistant,
		Kind:     types.KindResearch,
		Status:   types.StatusPending,
		Text:     c.opts.PlaceholderText,
		Metadata: meta,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to append research placeholder")
		return "", false
	}
	return id, true
}

func (c *Coordinator) background(ctx context.Context, id string, route types.ResearchRoute, call func(context.Context) (*types.ResearchResult, error)) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := call(ctx)
		if err == nil && res == nil {
			err = errors.New("empty response")
		}
		if err != nil {
			c.log.Warn().Err(err).Str("route", string(route)).Msg("auto research failed")
			c.patch(ctx, id, types.MessagePatch{
				Status: ptr(types.StatusFailed),
				Text:   ptr("Research could not be completed."),
			})
			return
		}
		c.patch(ctx, id, types.MessagePatch{
			Status:    ptr(types.StatusComplete),
			Text:      ptr(res.Text),
			Citations: res.Citations,
		})
	}()
}

func (c *Coordinator) patch(ctx context.Context, id string, p types.MessagePatch) {
	if err := c.writer.Patch(ctx, id, p); err != nil {
		c.log.Warn().Err(err).Str("messageID", id).Msg("failed to patch research message")
	}
}

// answerFromSnapshot appends the cached snapshot as an insight. The
// snapshot service is consulted only on a cache miss, and concurrent
// misses share one call.
func (c *Coordinator) answerFromSnapshot(ctx context.Context) {
	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("context snapshot unavailable")
		return
	}
	if snap.Empty() {
		return
	}
	_, err = c.writer.Append(ctx, types.Message{
		Role:     types.RoleAssistant,
		Kind:     types.KindInsight,
		Text:     snapshotSummary(snap),
		Metadata: map[string]any{"source": "context-snapshot"},
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to append snapshot insight")
	}
}

func (c *Coordinator) loadSnapshot(ctx context.Context) (*types.ContextSnapshot, error) {
	var cached types.ContextSnapshot
	err := c.kv.Get(ctx, c.key("snapshot"), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if c.collab.Snapshot == nil {
		return nil, nil
	}

	v, err, _ := c.snapshot.Do(c.sessionID, func() (any, error) {
		snap, err := c.collab.Snapshot.Snapshot(ctx, c.sessionID)
		if err != nil {
			return nil, err
		}
		if !snap.Empty() {
			if err := c.kv.Put(ctx, c.key("snapshot"), snap); err != nil {
				c.log.Warn().Err(err).Msg("failed to cache context snapshot")
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ContextSnapshot), nil
}

// Wait blocks until background research has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func leadSummary(res *types.LeadResearchResult, name string) string {
	var b strings.Builder
	if co := res.Company; co != nil && co.Name != "" {
		fmt.Fprintf(&b, "Company: %s", co.Name)
		if co.Industry != "" {
			fmt.Fprintf(&b, " (%s)", co.Industry)
		}
		if co.Summary != "" {
			fmt.Fprintf(&b, ". %s", co.Summary)
		}
		b.WriteString("\n")
	}
	if p := res.Person; p != nil {
		who := p.FullName
		if who == "" {
			who = name
		}
		fmt.Fprintf(&b, "Person: %s", who)
		if p.Role != "" {
			fmt.Fprintf(&b, ", %s", p.Role)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return fmt.Sprintf("Research on %s is complete.", name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func snapshotSummary(s *types.ContextSnapshot) string {
	var parts []string
	if s.Person != nil && s.Person.FullName != "" {
		parts = append(parts, "You are "+s.Person.FullName)
	}
	role := s.Role
	if role == "" && s.Person != nil {
		role = s.Person.Role
	}
	if role != "" {
		parts = append(parts, "working as "+role)
	}
	if s.Company != nil && s.Company.Name != "" {
		company := "at " + s.Company.Name
		if s.Company.Industry != "" {
			company += " (" + s.Company.Industry + ")"
		}
		parts = append(parts, company)
	}
	if len(parts) == 0 {
		return "Here is what I know about you so far."
	}
	return strings.Join(parts, ", ") + "."
}

// companyDomain reduces a company domain or URL to a bare host, falling
// back to the email's domain.
func companyDomain(domain, email string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain != "" {
		if i := strings.Index(domain, "://"); i >= 0 {
			domain = domain[i+3:]
		}
		if i := strings.IndexAny(domain, "/?#"); i >= 0 {
			domain = domain[:i]
		}
		domain = strings.TrimPrefix(domain, "www.")
		if domain != "" {
			return domain
		}
	}
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return strings.ToLower(email[at+1:])
	}
	return ""
}

func limit(c []types.Citation, n int) []types.Citation {
	if n > 0 && len(c) > n {
		return c[:n]
	}
	return c
}

func ptr[T any](v T) *T { return &v }
