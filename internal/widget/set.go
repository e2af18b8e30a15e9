package widget

import (
	"fmt"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Set holds one Manager per widget type for a session.
type Set struct {
	managers map[types.WidgetType]*Manager
}

// NewSet creates managers for every widget type. opts supplies per-type
// options; missing entries get zero Options.
func NewSet(sessionID string, device Device, bus *event.Bus, opts map[types.WidgetType]Options) *Set {
	s := &Set{managers: make(map[types.WidgetType]*Manager, len(types.WidgetTypes))}
	for _, t := range types.WidgetTypes {
		s.managers[t] = NewManager(sessionID, t, device, bus, opts[t])
	}
	return s
}

// Get returns the manager for t.
func (s *Set) Get(t types.WidgetType) (*Manager, error) {
	m, ok := s.managers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return m, nil
}

// Open lists every non-Closed widget in type order.
func (s *Set) Open() []types.WidgetSnapshot {
	return s.filter(func(st types.WidgetState) bool { return st != types.WidgetClosed })
}

// Docked lists Minimized widgets, the ones aggregated into the dock.
func (s *Set) Docked() []types.WidgetSnapshot {
	return s.filter(func(st types.WidgetState) bool { return st == types.WidgetMinimized })
}

func (s *Set) filter(keep func(types.WidgetState) bool) []types.WidgetSnapshot {
	out := []types.WidgetSnapshot{}
	for _, t := range types.WidgetTypes {
		snap := s.managers[t].Snapshot()
		if keep(snap.State) {
			out = append(out, snap)
		}
	}
	return out
}

// CloseAll closes every widget and waits for pending acquisitions.
func (s *Set) CloseAll() {
	for _, t := range types.WidgetTypes {
		m := s.managers[t]
		m.Close()
		m.Wait()
	}
}
