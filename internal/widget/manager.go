// Package widget implements the lifecycle of capture tools (voice, webcam,
// screen share), each owning one exclusive device resource.
package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// ErrUnknownType is returned for widget types outside types.WidgetTypes.
var ErrUnknownType = errors.New("unknown widget type")

// Activation describes one Active period of a widget.
type Activation struct {
	Type       types.WidgetType
	Generation uint64
	Handle     Handle
}

// Runner is work that lives for exactly one activation. Start is called
// with the manager locked when the widget becomes Active, so it must not
// call back into the Manager synchronously. Stop is called when the widget
// closes and must not return while the runner still touches the handle.
type Runner interface {
	Start(a Activation)
	Stop()
}

// Options tunes a Manager.
type Options struct {
	// MaxDuration closes the widget this long after it becomes Active.
	MaxDuration time.Duration
	// AcquireTimeout bounds the permission prompt.
	AcquireTimeout time.Duration
	// Fallback retries a non-permission acquisition failure once with
	// fallback constraints.
	Fallback bool
}

// Manager is the state machine for one widget type. Every transition is
// serialized by mu; asynchronous completions carry the generation they
// started under and are dropped when it is no longer current.
type Manager struct {
	sessionID string
	typ       types.WidgetType
	device    Device
	bus       *event.Bus
	opts      Options
	log       zerolog.Logger

	mu         sync.Mutex
	state      types.WidgetState
	generation uint64
	handle     Handle
	lastErr    *DeviceError
	runners    []Runner
	running    []Runner

	cancelAcquire context.CancelFunc
	ceiling       *time.Timer
	stopWatch     chan struct{}

	pending sync.WaitGroup
}

// NewManager creates a Closed manager for t.
func NewManager(sessionID string, t types.WidgetType, device Device, bus *event.Bus, opts Options) *Manager {
	return &Manager{
		sessionID: sessionID,
		typ:       t,
		device:    device,
		bus:       bus,
		opts:      opts,
		log:       logging.ForSession(sessionID, "widget").With().Str("widget", string(t)).Logger(),
		state:     types.WidgetClosed,
	}
}

// Type returns the widget type.
func (m *Manager) Type() types.WidgetType { return m.typ }

// AddRunner registers r for every future activation.
func (m *Manager) AddRunner(r Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners = append(m.runners, r)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() types.WidgetSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() types.WidgetSnapshot {
	s := types.WidgetSnapshot{Type: m.typ, State: m.state, Generation: m.generation}
	if m.lastErr != nil {
		s.Error = m.lastErr.Message(m.typ)
		s.Reason = string(m.lastErr.Reason)
	}
	return s
}

// Generation returns the generation of the latest open.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// IsCurrent reports whether gen is the live activation. A Closed widget has
// no current generation.
func (m *Manager) IsCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != types.WidgetClosed && m.state != types.WidgetError && m.generation == gen
}

// IsActive reports whether gen is live and not minimized.
func (m *Manager) IsActive(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == types.WidgetActive && m.generation == gen
}

// Open starts acquisition if the widget is Closed and is a no-op in every
// other state. It returns without waiting for the device.
func (m *Manager) Open(ctx context.Context) types.WidgetSnapshot {
	m.mu.Lock()
	if m.state != types.WidgetClosed {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap
	}
	m.generation++
	gen := m.generation
	m.state = types.WidgetConnecting
	m.lastErr = nil

	var acquireCtx context.Context
	var cancel context.CancelFunc
	if m.opts.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), m.opts.AcquireTimeout)
	} else {
		acquireCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.cancelAcquire = cancel
	m.pending.Add(1)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Debug().Uint64("generation", gen).Msg("opening widget")
	m.publish(snap, "")

	go m.acquire(acquireCtx, cancel, gen)
	return snap
}

func (m *Manager) acquire(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.pending.Done()
	defer cancel()

	h, err := m.device.Acquire(ctx, m.typ, Constraints{})
	if err != nil && m.opts.Fallback && ctx.Err() == nil {
		if de := AsDeviceError(err); de.Reason != ReasonPermissionDenied {
			m.log.Debug().Err(err).Msg("retrying acquisition with fallback constraints")
			h, err = m.device.Acquire(ctx, m.typ, Constraints{Fallback: true})
		}
	}

	m.mu.Lock()
	if m.generation != gen || m.state != types.WidgetConnecting {
		m.mu.Unlock()
		// Closed or reopened while the prompt was up.
		if h != nil {
			_ = h.Release()
		}
		return
	}
	m.cancelAcquire = nil

	if err != nil {
		m.mu.Unlock()
		m.fail(gen, err)
		return
	}

	m.handle = h
	m.state = types.WidgetActive
	m.stopWatch = make(chan struct{})
	if m.opts.MaxDuration > 0 {
		m.ceiling = time.AfterFunc(m.opts.MaxDuration, func() {
			m.log.Debug().Uint64("generation", gen).Msg("max duration reached")
			m.closeGeneration(gen)
		})
	}
	go m.watch(gen, h, m.stopWatch)

	// Runners start under the lock so a racing Close always sees them.
	a := Activation{Type: m.typ, Generation: gen, Handle: h}
	m.running = append([]Runner(nil), m.runners...)
	for _, r := range m.running {
		r.Start(a)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info().Uint64("generation", gen).Msg("widget active")
	m.publish(snap, "")
}

// watch routes a device-initiated end through the close path.
func (m *Manager) watch(gen uint64, h Handle, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-h.Done():
		if err := h.Err(); err != nil {
			m.fail(gen, err)
			return
		}
		m.log.Info().Uint64("generation", gen).Msg("device ended")
		m.closeGeneration(gen)
	}
}

// fail surfaces err through the Error state and then closes.
func (m *Manager) fail(gen uint64, err error) {
	de := AsDeviceError(err)

	m.mu.Lock()
	if m.generation != gen || m.state == types.WidgetClosed {
		m.mu.Unlock()
		return
	}
	m.state = types.WidgetError
	m.lastErr = de
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Warn().Err(err).Str("reason", string(de.Reason)).Msg("widget failed")
	m.publish(snap, de.Message(m.typ))
	m.closeGeneration(gen)
}

// Close moves any state to Closed and releases the device. It never
// changes the generation.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closeLocked()
}

func (m *Manager) closeGeneration(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.closeLocked()
}

// closeLocked is entered with mu held and releases it.
func (m *Manager) closeLocked() {
	if m.state == types.WidgetClosed {
		m.mu.Unlock()
		return
	}
	m.state = types.WidgetClosed

	if m.cancelAcquire != nil {
		m.cancelAcquire()
		m.cancelAcquire = nil
	}
	if m.ceiling != nil {
		m.ceiling.Stop()
		m.ceiling = nil
	}
	if m.stopWatch != nil {
		close(m.stopWatch)
		m.stopWatch = nil
	}
	h := m.handle
	m.handle = nil
	running := m.running
	m.running = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	for _, r := range running {
		r.Stop()
	}
	if h != nil {
		if err := h.Release(); err != nil {
			m.log.Warn().Err(err).Msg("device release failed")
		}
	}

	m.log.Debug().Uint64("generation", snap.Generation).Msg("widget closed")
	m.publish(snap, "")
}

// Minimize moves Active to Minimized. Other states are left alone.
func (m *Manager) Minimize() types.WidgetSnapshot {
	return m.toggle(types.WidgetActive, types.WidgetMinimized)
}

// Expand moves Minimized to Active. Other states are left alone.
func (m *Manager) Expand() types.WidgetSnapshot {
	return m.toggle(types.WidgetMinimized, types.WidgetActive)
}

func (m *Manager) toggle(from, to types.WidgetState) types.WidgetSnapshot {
	m.mu.Lock()
	if m.state != from {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap
	}
	m.state = to
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(snap, "")
	return snap
}

// Wait blocks until no acquisition is in flight.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) publish(snap types.WidgetSnapshot, msg string) {
	m.bus.Publish(event.Event{
		Type:      event.WidgetUpdated,
		SessionID: m.sessionID,
		Data:      event.WidgetData{SessionID: m.sessionID, Widget: snap, Message: msg},
	})
}
