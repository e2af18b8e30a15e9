// Package consent implements the per-session consent state machine that
// gates every personalization action.
package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// ErrUnavailable wraps consent service failures. Callers treat it as "not
// yet granted", never as a refusal.
var ErrUnavailable = errors.New("consent service unavailable")

// ErrRejected is returned by Submit when the round trip does not confirm consent.
var ErrRejected = errors.New("consent rejected")

// Service is the external consent collaborator.
type Service interface {
	// Status returns the stored record, or nil if none exists yet.
	Status(ctx context.Context, sessionID string) (*types.ConsentRecord, error)
	Submit(ctx context.Context, sessionID string, input types.ConsentInput) error
}

// GrantedFunc runs once per session when consent is first granted.
type GrantedFunc func(ctx context.Context, record types.ConsentRecord)

// Gate tracks consent for one session.
type Gate struct {
	sessionID string
	service   Service
	bus       *event.Bus
	log       zerolog.Logger

	mu     sync.Mutex
	status types.ConsentStatus
	record *types.ConsentRecord
	fired  bool
	hooks  []GrantedFunc

	wg sync.WaitGroup
}

// NewGate creates a gate in the unknown state.
func NewGate(sessionID string, service Service, bus *event.Bus) *Gate {
	return &Gate{
		sessionID: sessionID,
		service:   service,
		bus:       bus,
		log:       logging.ForSession(sessionID, "consent"),
		status:    types.ConsentUnknown,
	}
}

// Status returns the current state without contacting the service.
func (g *Gate) Status() types.ConsentStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Granted reports whether personalization is allowed.
func (g *Gate) Granted() bool {
	return g.Status() == types.ConsentGranted
}

// Record returns a copy of the last confirmed record.
func (g *Gate) Record() (types.ConsentRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.record == nil {
		return types.ConsentRecord{}, false
	}
	return *g.record, true
}

// OnGranted registers fn to run when consent is granted. If the latch has
// already fired, fn is not called.
func (g *Gate) OnGranted(fn GrantedFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Refresh polls the consent service. A failed poll leaves the state as it
// was (unknown stays unknown) and returns an error wrapping ErrUnavailable.
// Polling any number of times after a grant fires the granted hooks once.
func (g *Gate) Refresh(ctx context.Context) (types.ConsentStatus, error) {
	record, err := g.service.Status(ctx, g.sessionID)
	if err != nil {
		g.log.Warn().Err(err).Msg("consent status check failed")
		return g.Status(), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return g.apply(ctx, record, false), nil
}

// Submit posts the consent form and confirms the result with a fresh status
// read; the gate never marks itself granted from the POST alone.
func (g *Gate) Submit(ctx context.Context, input types.ConsentInput) (types.ConsentStatus, error) {
	g.mu.Lock()
	prev := g.status
	g.status = types.ConsentPending
	g.mu.Unlock()
	g.publishUpdated(types.ConsentPending, nil)

	if err := g.service.Submit(ctx, g.sessionID, input); err != nil {
		g.restore(prev)
		return prev, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record, err := g.service.Status(ctx, g.sessionID)
	if err != nil {
		g.restore(prev)
		return prev, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status := g.apply(ctx, record, true)
	if status != types.ConsentGranted {
		return status, ErrRejected
	}
	return status, nil
}

func (g *Gate) restore(prev types.ConsentStatus) {
	g.mu.Lock()
	if g.status == types.ConsentPending {
		g.status = prev
	}
	g.mu.Unlock()
	g.publishUpdated(prev, nil)
}

// apply folds a service record into the state machine. A missing or
// negative record after a submission is a denial; a missing record on a
// plain poll means nothing has been decided yet, and leaves a submission
// in flight pending.
func (g *Gate) apply(ctx context.Context, record *types.ConsentRecord, submitted bool) types.ConsentStatus {
	g.mu.Lock()

	next := types.ConsentUnknown
	switch {
	case record != nil && record.Allowed:
		next = types.ConsentGranted
	case submitted:
		next = types.ConsentDenied
	case record != nil && record.Email != "":
		next = types.ConsentDenied
	case g.status == types.ConsentDenied || g.status == types.ConsentGranted || g.status == types.ConsentPending:
		next = g.status
	}

	if record != nil {
		r := *record
		r.SessionID = g.sessionID
		g.record = &r
	}
	changed := next != g.status
	g.status = next

	latched := next == types.ConsentGranted && !g.fired
	var hooks []GrantedFunc
	var granted types.ConsentRecord
	if latched {
		g.fired = true
		hooks = append(hooks, g.hooks...)
		granted = *g.record
	}
	g.mu.Unlock()

	if changed {
		g.publishUpdated(next, record)
	}
	if latched {
		g.fire(ctx, granted, hooks)
	}
	return next
}

func (g *Gate) fire(ctx context.Context, record types.ConsentRecord, hooks []GrantedFunc) {
	g.log.Info().Str("email", record.Email).Msg("consent granted")
	g.bus.Publish(event.Event{
		Type:      event.ConsentGranted,
		SessionID: g.sessionID,
		Data:      event.ConsentData{SessionID: g.sessionID, Status: types.ConsentGranted, Record: &record},
	})

	// Hooks outlive the request that observed the grant.
	hookCtx := context.WithoutCancel(ctx)
	for _, fn := range hooks {
		g.wg.Add(1)
		go func(fn GrantedFunc) {
			defer g.wg.Done()
			fn(hookCtx, record)
		}(fn)
	}
}

func (g *Gate) publishUpdated(status types.ConsentStatus, record *types.ConsentRecord) {
	g.bus.Publish(event.Event{
		Type:      event.ConsentUpdated,
		SessionID: g.sessionID,
		Data:      event.ConsentData{SessionID: g.sessionID, Status: status, Record: record},
	})
}

// Wait blocks until every granted hook has returned.
func (g *Gate) Wait() {
	g.wg.Wait()
}
