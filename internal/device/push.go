// Package device implements capture devices that live in the client.
//
// The server cannot open a camera or microphone itself. Acquire publishes a
// device.requested event and waits for the client to answer with Grant or
// Deny; frames then arrive over HTTP or a websocket and only the latest one
// is kept.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	// ErrNoPendingRequest is returned when the client answers a prompt that
	// is not open.
	ErrNoPendingRequest = errors.New("no pending device request")
	// ErrNotActive is returned for frames or ends on a device without a live handle.
	ErrNotActive = errors.New("device not active")
	// ErrSuperseded ends an acquisition replaced by a newer one.
	ErrSuperseded = errors.New("device request superseded")
	// ErrInvalidFrame is returned for frames that are not JPEG or PNG.
	ErrInvalidFrame = errors.New("invalid frame")
)

type grant struct {
	width, height int
	reason        widget.Reason
	err           error
}

type request struct {
	fallback bool
	answer   chan grant
}

// Push is a widget.Device answered by the client.
type Push struct {
	sessionID string
	bus       *event.Bus
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[types.WidgetType]*request
	handles map[types.WidgetType]*Handle
}

// NewPush creates a client-pushed device for one session.
func NewPush(sessionID string, bus *event.Bus) *Push {
	return &Push{
		sessionID: sessionID,
		bus:       bus,
		log:       logging.ForSession(sessionID, "device"),
		now:       time.Now,
		pending:   make(map[types.WidgetType]*request),
		handles:   make(map[types.WidgetType]*Handle),
	}
}

// Acquire asks the client for device t and blocks until it answers or ctx
// ends.
func (p *Push) Acquire(ctx context.Context, t types.WidgetType, c widget.Constraints) (widget.Handle, error) {
	req := &request{fallback: c.Fallback, answer: make(chan grant, 1)}

	p.mu.Lock()
	if old, ok := p.pending[t]; ok {
		old.answer <- grant{reason: widget.ReasonDeviceBusy, err: ErrSuperseded}
	}
	p.pending[t] = req
	p.mu.Unlock()

	p.bus.Publish(event.Event{
		Type:      event.DeviceRequested,
		SessionID: p.sessionID,
		Data:      event.DeviceRequestData{SessionID: p.sessionID, WidgetType: t, Fallback: c.Fallback},
	})

	select {
	case <-ctx.Done():
		p.mu.Lock()
		if p.pending[t] == req {
			delete(p.pending, t)
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	case g := <-req.answer:
		if g.err != nil {
			return nil, &widget.DeviceError{Reason: g.reason, Err: g.err}
		}
		h := newHandle(t, g.width, g.height, p.now)
		h.onRelease = func() { p.drop(t, h) }
		p.mu.Lock()
		if old := p.handles[t]; old != nil {
			old.end(nil)
		}
		p.handles[t] = h
		p.mu.Unlock()
		return h, nil
	}
}

func (p *Push) take(t types.WidgetType) (*request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.pending[t]
	if !ok {
		return nil, ErrNoPendingRequest
	}
	delete(p.pending, t)
	return req, nil
}

// Pending reports whether a prompt for t is waiting on the client.
func (p *Push) Pending(t types.WidgetType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[t]
	return ok
}

// Grant answers the open prompt for t with the negotiated frame size.
func (p *Push) Grant(t types.WidgetType, width, height int) error {
	req, err := p.take(t)
	if err != nil {
		return err
	}
	req.answer <- grant{width: width, height: height}
	return nil
}

// Deny answers the open prompt for t with a failure reason.
func (p *Push) Deny(t types.WidgetType, reason widget.Reason, detail string) error {
	req, err := p.take(t)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = widget.ReasonDeviceError
	}
	if detail == "" {
		detail = string(reason)
	}
	req.answer <- grant{reason: reason, err: errors.New(detail)}
	return nil
}

func (p *Push) handle(t types.WidgetType) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[t]
	if !ok {
		return nil, ErrNotActive
	}
	return h, nil
}

// Frame decodes a JPEG or PNG frame and stores it as the latest for t.
func (p *Push) Frame(t types.WidgetType, data []byte) error {
	h, err := p.handle(t)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	h.setFrame(img)
	return nil
}

// End reports that the client stopped device t. A non-empty reason marks
// it as a runtime failure.
func (p *Push) End(t types.WidgetType, reason widget.Reason, detail string) error {
	h, err := p.handle(t)
	if err != nil {
		return err
	}
	var cause error
	if reason != "" {
		if detail == "" {
			detail = string(reason)
		}
		cause = &widget.DeviceError{Reason: reason, Err: errors.New(detail)}
	}
	p.log.Debug().Str("widget", string(t)).Str("reason", string(reason)).Msg("client ended device")
	h.end(cause)
	return nil
}

func (p *Push) drop(t types.WidgetType, h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[t] == h {
		delete(p.handles, t)
	}
}

var _ widget.Device = (*Push)(nil)
