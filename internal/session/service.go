package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/config"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/consent"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/identity"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/research"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	// ErrNotOpen is returned for sessions without a live runtime.
	ErrNotOpen = errors.New("session not open")
	// ErrUnavailable is returned when a collaborator is not configured.
	ErrUnavailable = errors.New("collaborator not configured")
)

// Collaborators are the external services a Runtime calls. Nil fields
// disable the features that depend on them.
type Collaborators struct {
	Consent   consent.Service
	Lead      research.LeadResearcher
	Search    research.Searcher
	URLs      research.URLAnalyzer
	Snapshot  research.SnapshotReader
	Frames    capture.Analyzer
	Artifacts artifact.Generator
}

// Service manages live session runtimes.
type Service struct {
	cfg      *types.Config
	identity *identity.Store
	bus      *event.Bus
	collab   Collaborators
	kinds    *artifact.Registry

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewService creates a session service. durable holds session identities
// across restarts.
func NewService(cfg *types.Config, durable storage.KV, bus *event.Bus, collab Collaborators) *Service {
	if cfg == nil {
		cfg = &types.Config{}
	}
	if collab.Consent == nil {
		collab.Consent = offlineConsent{}
	}
	return &Service{
		cfg:      config.ApplyDefaults(cfg),
		identity: identity.New(durable),
		bus:      bus,
		collab:   collab,
		kinds:    artifact.MustRegistry(),
		runtimes: make(map[string]*Runtime),
	}
}

// Open resolves id (creating the session if needed) and returns its live
// runtime, building one if the session is not open yet. An empty or
// unknown id creates a new session.
func (s *Service) Open(ctx context.Context, id string) (*Runtime, bool, error) {
	sess, created, err := s.identity.Resolve(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve session: %w", err)
	}

	s.mu.Lock()
	rt, ok := s.runtimes[sess.ID]
	if !ok {
		rt = newRuntime(*sess, s.cfg, s.bus, s.collab, s.kinds)
		s.runtimes[sess.ID] = rt
	}
	s.mu.Unlock()

	if created {
		s.bus.Publish(event.Event{Type: event.SessionCreated, SessionID: sess.ID, Data: event.SessionData{Info: sess}})
	}
	if !ok {
		logging.Info().Str("sessionID", sess.ID).Bool("created", created).Msg("session opened")
		// A returning session may already have consent on record.
		if _, err := rt.consent.Refresh(ctx); err != nil {
			logging.Warn().Err(err).Str("sessionID", sess.ID).Msg("initial consent check failed")
		}
	}
	return rt, created, nil
}

// Get returns the live runtime for id.
func (s *Service) Get(id string) (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[id]
	if !ok {
		return nil, ErrNotOpen
	}
	return rt, nil
}

// Lookup returns the durable session record for id without opening it.
func (s *Service) Lookup(ctx context.Context, id string) (*types.Session, error) {
	return s.identity.Get(ctx, id)
}

// Sessions lists the ids of open sessions.
func (s *Service) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// End tears down the runtime for id. The durable identity survives.
func (s *Service) End(ctx context.Context, id string) error {
	s.mu.Lock()
	rt, ok := s.runtimes[id]
	delete(s.runtimes, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotOpen
	}

	rt.end()
	s.bus.Publish(event.Event{Type: event.SessionEnded, SessionID: id, Data: event.SessionData{Info: &rt.session}})
	logging.Info().Str("sessionID", id).Msg("session ended")
	return nil
}

// Close ends every open session.
func (s *Service) Close(ctx context.Context) {
	for _, id := range s.Sessions() {
		_ = s.End(ctx, id)
	}
}

// offlineConsent stands in when no consent service is configured: there
// is never a record, so the gate stays unknown.
type offlineConsent struct{}

func (offlineConsent) Status(context.Context, string) (*types.ConsentRecord, error) {
	return nil, nil
}

func (offlineConsent) Submit(context.Context, string, types.ConsentInput) error {
	return ErrUnavailable
}
